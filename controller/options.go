package controller

import "time"

// PinSupplier is invoked only if the controller rejects the default empty
// PIN attempt, with the rejection error; it returns the PIN to retry with.
type PinSupplier func(previousErr error) (pin string, err error)

// Options configures a Controller.
type Options struct {
	// ReconnectWaitTime is the debounce delay before a reconnect attempt
	// (default 1s).
	ReconnectWaitTime time.Duration
	// HTTPRequestTimeout bounds each REST call (default 1s).
	HTTPRequestTimeout time.Duration
	// DisableAnalytics is carried through for parity but has no behavior of
	// its own in this client.
	DisableAnalytics bool
	// RemoteAuthorization, when set, replaces the PIN flow with a one-shot
	// pre-auth message and enforces the 5s authorize timeout.
	RemoteAuthorization any
	// PIN is tried after the default empty PIN is rejected. May be nil.
	PIN PinSupplier
	// Token is sent as a bearer token on REST calls, if set.
	Token string
	// WatchdogEnabled turns on the liveness watchdog. It only ever arms once
	// a device has subscribed, regardless of this flag's value, but setting
	// it false disables the mechanism entirely.
	WatchdogEnabled bool
	// WatchdogTimeout overrides the default 15s deadline.
	WatchdogTimeout time.Duration
}

func (o Options) reconnectWait() time.Duration {
	if o.ReconnectWaitTime > 0 {
		return o.ReconnectWaitTime
	}
	return time.Second
}

func (o Options) httpTimeout() time.Duration {
	if o.HTTPRequestTimeout > 0 {
		return o.HTTPRequestTimeout
	}
	return time.Second
}

func (o Options) watchdogTimeout() time.Duration {
	if o.WatchdogTimeout > 0 {
		return o.WatchdogTimeout
	}
	return 15 * time.Second
}

// connectionTimeout is the hard ceiling used for a reconnect's channel
// re-open, for the watchdog's restart REST call, and for the remote-auth
// handshake.
const connectionTimeout = 5 * time.Second

// secondStateID is the system device's once-per-second liveness tick the
// watchdog resets on.
const secondStateID = "SECOND_STATE"
