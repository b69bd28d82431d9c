package controller

import (
	"context"
	"strconv"
	"sync"

	"github.com/kataras/golog"

	"github.com/kramer-control/brain-client-go/async"
	"github.com/kramer-control/brain-client-go/brainerr"
	"github.com/kramer-control/brain-client-go/driver"
	"github.com/kramer-control/brain-client-go/event"
)

// pendingCommand tracks the state ids a sendCommand/setCustomState call is
// waiting on: it resolves only after each of those has been updated by a
// subsequent inbound state-change message.
type pendingCommand struct {
	remaining map[string]struct{}
	results   map[string]string
	done      *async.Deferred[map[string]string]
}

// Device is the logical endpoint for one controlled device. It
// back-references its owning controller only for sending, and is
// otherwise self-contained: catalog, subscription state, and the deferred
// completions backing its wait-once operations.
type Device struct {
	ID            string
	Name          string
	Description   string
	DriverID      string
	DriverVersion int
	IsSystem      bool

	controller *Controller
	logger     *golog.Logger
	bus        *event.Bus

	mu             sync.RWMutex
	catalog        driver.Catalog
	driverErr      error
	statesByID     map[string]*driver.State
	statesByName   map[string]*driver.State
	commandsByID   map[string]*driver.Command
	commandsByName map[string]*driver.Command

	watchRequested bool
	statesReady    *async.Deferred[struct{}]
	pending        map[string]*pendingCommand
	nextPendingID  uint64
}

func newDevice(ctrl *Controller, w deviceWire) *Device {
	return &Device{
		ID:            w.ID,
		Name:          w.Name,
		Description:   w.Description,
		DriverID:      w.DriverID,
		DriverVersion: w.DriverVersion,
		IsSystem:      w.IsSystemDevice,
		controller:    ctrl,
		logger:        golog.Child("device").Child(w.ID),
		bus:           event.NewBus(),
		statesReady:   async.New[struct{}](),
		pending:       make(map[string]*pendingCommand),
	}
}

// applyCatalog installs a freshly-normalised catalog, replacing any prior
// one. Object identity of the Device itself is preserved by the caller:
// only the catalog contents are refreshed.
func (d *Device) applyCatalog(catalog driver.Catalog, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.driverErr = err
	if err != nil {
		return
	}
	d.catalog = catalog

	d.statesByID = make(map[string]*driver.State)
	d.statesByName = make(map[string]*driver.State)
	d.commandsByID = make(map[string]*driver.Command)
	d.commandsByName = make(map[string]*driver.Command)
	for _, category := range catalog {
		for _, state := range category.States {
			d.statesByID[state.ID] = state
			d.statesByName[state.Name] = state
		}
		for _, cmd := range category.Commands {
			d.commandsByID[cmd.ID] = cmd
			d.commandsByName[cmd.Name] = cmd
		}
	}
}

// DriverError reports the error captured during driver fetch, if any; the
// device remains usable for metadata only in that case.
func (d *Device) DriverError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.driverErr
}

// IsSystemDevice reports whether this is the synthetic system device.
func (d *Device) IsSystemDevice() bool { return d.IsSystem }

// On subscribes to one of this device's events (currently only
// EventStateChanged). Attaching the first listener arms the watch, and
// removing the last one disarms it.
func (d *Device) On(name string, fn event.Listener) (unsubscribe func()) {
	before := d.bus.ListenerCount(name)
	off := d.bus.On(name, fn)
	if name == EventStateChanged && before == 0 {
		d.arm()
	}
	return func() {
		off()
		if name == EventStateChanged && d.bus.ListenerCount(name) == 0 {
			d.disarm()
		}
	}
}

func (d *Device) arm() {
	d.mu.Lock()
	already := d.watchRequested
	d.watchRequested = true
	d.mu.Unlock()
	if !already {
		d.controller.sendWatchStates(d.ID, true)
	}
}

func (d *Device) disarm() {
	d.mu.Lock()
	d.watchRequested = false
	d.mu.Unlock()
	d.controller.sendWatchStates(d.ID, false)
}

// rearm re-sends the watch message after a reconnect, if a subscription was
// previously requested.
func (d *Device) rearm() {
	d.mu.RLock()
	watching := d.watchRequested
	d.mu.RUnlock()
	if watching {
		d.controller.sendWatchStates(d.ID, true)
	}
}

// GetStates returns all normalised states, blocking on first call until at
// least one inbound state change has been applied.
func (d *Device) GetStates(ctx context.Context) (map[string]*driver.State, error) {
	d.arm()
	if _, err := d.statesReady.Wait(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*driver.State, len(d.statesByID))
	for k, v := range d.statesByID {
		out[k] = v
	}
	return out, nil
}

// GetCustomStates returns only states flagged custom; empty for a
// non-system device.
func (d *Device) GetCustomStates(ctx context.Context) (map[string]*driver.State, error) {
	if !d.IsSystem {
		return map[string]*driver.State{}, nil
	}
	all, err := d.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*driver.State)
	for k, v := range all {
		if v.IsCustomState {
			out[k] = v
		}
	}
	return out, nil
}

// GetState looks up one state by id or name, with the same wait-once
// semantics as GetStates.
func (d *Device) GetState(ctx context.Context, keyOrName string) (*driver.State, error) {
	d.arm()
	if _, err := d.statesReady.Wait(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.statesByID[keyOrName]; ok {
		return s, nil
	}
	if s, ok := d.statesByName[keyOrName]; ok {
		return s, nil
	}
	return nil, brainerr.ErrInvalidState
}

// GetCommands returns the full command catalog; synchronous, no wait.
func (d *Device) GetCommands() map[string]*driver.Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*driver.Command, len(d.commandsByID))
	for k, v := range d.commandsByID {
		out[k] = v
	}
	return out
}

// GetCommand looks up one command by id or name.
func (d *Device) GetCommand(keyOrName string) (*driver.Command, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.commandsByID[keyOrName]; ok {
		return c, nil
	}
	if c, ok := d.commandsByName[keyOrName]; ok {
		return c, nil
	}
	return nil, brainerr.ErrInvalidCommand
}

// SendCommand builds and sends a macro for the named command, waiting for
// every state it dynamically references to be subsequently updated. params
// are static parameter values, keyed by parameter name.
func (d *Device) SendCommand(ctx context.Context, keyOrName string, params map[string]string) (map[string]string, error) {
	cmd, err := d.GetCommand(keyOrName)
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]struct{}, len(cmd.States))
	for stateID := range cmd.States {
		remaining[stateID] = struct{}{}
	}

	if len(remaining) == 0 {
		d.controller.sendMacro(d.ID, d.DriverID, cmd.Category, cmd.Capability, cmd.ID, staticParams(params))
		return map[string]string{}, nil
	}

	pc := &pendingCommand{
		remaining: remaining,
		results:   make(map[string]string, len(remaining)),
		done:      async.New[map[string]string](),
	}

	d.mu.Lock()
	d.nextPendingID++
	id := d.nextPendingID
	d.pending[pendingKey(id)] = pc
	d.mu.Unlock()

	d.controller.sendMacro(d.ID, d.DriverID, cmd.Category, cmd.Capability, cmd.ID, staticParams(params))

	result, err := pc.done.Wait(ctx)
	d.mu.Lock()
	delete(d.pending, pendingKey(id))
	d.mu.Unlock()
	return result, err
}

// SetCustomState mutates a custom state on the system device, waiting for
// the next applied change to that specific state.
func (d *Device) SetCustomState(ctx context.Context, keyOrName, value string) (*driver.State, error) {
	if !d.IsSystem {
		return nil, brainerr.ErrNotSystemDevice
	}

	d.mu.RLock()
	state, ok := d.statesByID[keyOrName]
	if !ok {
		state, ok = d.statesByName[keyOrName]
	}
	d.mu.RUnlock()
	if !ok || !state.IsCustomState {
		return nil, brainerr.ErrInvalidState
	}

	pc := &pendingCommand{
		remaining: map[string]struct{}{state.ID: {}},
		results:   make(map[string]string, 1),
		done:      async.New[map[string]string](),
	}
	d.mu.Lock()
	d.nextPendingID++
	id := d.nextPendingID
	d.pending[pendingKey(id)] = pc
	d.mu.Unlock()

	d.controller.sendMacro(d.ID, d.DriverID, state.Category, "", "SET_CUSTOM_STATE", customStateParams(value))

	_, err := pc.done.Wait(ctx)
	d.mu.Lock()
	delete(d.pending, pendingKey(id))
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.statesByID[state.ID], nil
}

func pendingKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// applyStateChange installs one inbound state update, emits STATE_CHANGED,
// and resolves any waiter whose tracked state set is now complete.
func (d *Device) applyStateChange(change stateChangeWire) {
	d.mu.Lock()
	state, ok := d.statesByID[change.StateID]
	if !ok {
		d.mu.Unlock()
		d.logger.Warnf("state change for unknown state %q", change.StateID)
		return
	}
	state.Value = change.StateValue
	state.NormalizedValue = driver.CoerceNormalized(change.StateValue, state.Type)

	d.statesReady.Resolve(struct{}{})

	for _, pc := range d.pending {
		if _, waiting := pc.remaining[change.StateID]; waiting {
			delete(pc.remaining, change.StateID)
			pc.results[change.StateID] = change.StateValue
			if len(pc.remaining) == 0 {
				results := pc.results
				pc.done.Resolve(results)
			}
		}
	}
	d.mu.Unlock()

	d.bus.Emit(EventStateChanged, map[string]any{
		"id":              state.ID,
		"key":             change.StateKey,
		"name":            state.Name,
		"value":           state.Value,
		"normalizedValue": state.NormalizedValue,
	})
}
