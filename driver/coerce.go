package driver

import (
	"github.com/kataras/golog"
	"github.com/spf13/cast"
)

// CoerceNormalized applies the "coerce exactly when type=number" rule:
// numeric states get a float64 NormalizedValue, everything else passes the
// raw string through unchanged. A malformed numeric value is logged and
// left as the original string rather than failing the caller; a single bad
// value must not take down the rest of a device's catalog.
func CoerceNormalized(value, stateType string) any {
	if stateType != "number" {
		return value
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		golog.Warnf("driver: could not coerce %q to number, leaving as string: %v", value, err)
		return value
	}
	return f
}
