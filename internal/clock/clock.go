// Package clock caches the current time at one-second resolution, the way
// utils/time.go does, for callers that only need second-level precision.
// No other package in this module imports it.
package clock

import "time"

var (
	now  = time.Now()
	unix = now.Unix()
)

func init() {
	go func() {
		for t := range time.NewTicker(time.Second).C {
			now = t
			unix = t.Unix()
		}
	}()
}

// Now returns the cached current time, refreshed at most once per second.
func Now() time.Time { return now }

// Unix returns the cached current Unix timestamp.
func Unix() int64 { return unix }
