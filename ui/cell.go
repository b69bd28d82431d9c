// Package ui implements three "observable cell" adapters: framework-agnostic
// handles that resolve to a live value and re-emit it on change, with
// setup/teardown bound to whatever lifetime the caller manages (a UI
// component, a goroutine, a request scope). Grounded on event-driven
// connection handles, generalised from "one connection" into "one observed
// value with subscribe/unsubscribe".
package ui

import (
	"context"

	"github.com/kramer-control/brain-client-go/controller"
	"github.com/kramer-control/brain-client-go/driver"
)

// Cell is a live value plus change notification. Subscribe registers fn to
// be called with every subsequent value; the returned unsubscribe function
// tears down the underlying event listener. Value returns the most recently
// observed value without blocking.
type Cell[T any] interface {
	Value() T
	Subscribe(fn func(T)) (unsubscribe func())
}

// --- DeviceCell: resolves to a live Device ---

type deviceCell struct {
	device *controller.Device
}

// NewDeviceCell resolves to the live device with the given id, blocking on
// ctrl's lazy device enumeration the first time it's needed.
func NewDeviceCell(ctx context.Context, ctrl *controller.Controller, deviceID string) (Cell[*controller.Device], error) {
	dev, err := ctrl.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return &deviceCell{device: dev}, nil
}

func (c *deviceCell) Value() *controller.Device { return c.device }

// Subscribe is a no-op subscription point: a Device's identity never
// changes once resolved, only its states do (see StateCell). fn is called
// once, immediately, with the resolved device, for interface uniformity.
func (c *deviceCell) Subscribe(fn func(*controller.Device)) (unsubscribe func()) {
	fn(c.device)
	return func() {}
}

// --- StateCell: resolves to a live State, re-emitted on STATE_CHANGED ---

type stateCell struct {
	device  *controller.Device
	stateID string
}

// NewStateCell resolves to the state identified by stateID on dev. Like
// Device.GetState, it blocks until the device has applied its first
// inbound state change. Callers should use Subscribe to receive updates for
// the life of their component; Value reflects the last-applied record.
func NewStateCell(ctx context.Context, dev *controller.Device, stateID string) (Cell[*driver.State], error) {
	state, err := dev.GetState(ctx, stateID)
	if err != nil {
		return nil, err
	}
	return &stateCell{device: dev, stateID: state.ID}, nil
}

func (c *stateCell) Value() *driver.State {
	state, _ := c.device.GetState(context.Background(), c.stateID)
	return state
}

// Subscribe attaches to the device's STATE_CHANGED event, invoking fn only
// for changes to this cell's state id. Unsubscribing tears down the
// listener; if it was the device's last STATE_CHANGED listener, the
// underlying watch is released too (Device's own arbitration).
func (c *stateCell) Subscribe(fn func(*driver.State)) (unsubscribe func()) {
	return c.device.On(controller.EventStateChanged, func(payload any) {
		fields, ok := payload.(map[string]any)
		if !ok {
			return
		}
		if id, _ := fields["id"].(string); id != c.stateID {
			return
		}
		if state, err := c.device.GetState(context.Background(), c.stateID); err == nil {
			fn(state)
		}
	})
}

// --- ConnectionStatusCell: resolves to the live connection status ---

type connectionStatusCell struct {
	ctrl *controller.Controller
}

// NewConnectionStatusCell tracks ctrl's CONNECTION_STATUS_CHANGED event.
func NewConnectionStatusCell(ctrl *controller.Controller) Cell[controller.ConnectionState] {
	return &connectionStatusCell{ctrl: ctrl}
}

func (c *connectionStatusCell) Value() controller.ConnectionState { return c.ctrl.State() }

func (c *connectionStatusCell) Subscribe(fn func(controller.ConnectionState)) (unsubscribe func()) {
	return c.ctrl.On(controller.EventConnectionStatusChanged, func(any) {
		fn(c.ctrl.State())
	})
}
