// Package controller implements the connection state machine and the
// per-device object model on top of the transport and driver packages.
// Grounded on client/core/core.go's reconnect loop and
// client/core/handler.go's dispatch table, generalised from a byte-protocol
// RAT client into a JSON control protocol client.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kataras/golog"

	"github.com/kramer-control/brain-client-go/async"
	"github.com/kramer-control/brain-client-go/brainerr"
	"github.com/kramer-control/brain-client-go/cmap"
	"github.com/kramer-control/brain-client-go/driver"
	"github.com/kramer-control/brain-client-go/event"
	"github.com/kramer-control/brain-client-go/transport"
)

// Controller is the exclusive owner of a connection's endpoint, connection
// state, the two transport handles, the device map, and the session's
// handshake flags.
type Controller struct {
	endpoint string
	opts     Options
	logger   *golog.Logger

	rest    *transport.RESTClient
	channel *transport.Channel
	bus     *event.Bus

	mu                   sync.Mutex
	state                ConnectionState
	manuallyDisconnected bool
	expressMode          bool
	remoteAuthMode       bool
	brainID              string
	sessionID            string
	authToken            string

	connectSettle *async.Deferred[ConnectionState]

	devices           cmap.Map[string, *Device]
	devicesEnumerated bool
	enumerateInFlight *async.Deferred[struct{}]

	reconnectMu    sync.Mutex
	reconnectTimer *time.Timer

	watchdogMu    sync.Mutex
	watchdogTimer *time.Timer
	watchdogArmed bool

	remoteAuthMu    sync.Mutex
	remoteAuthTimer *time.Timer
}

// New constructs a Controller for endpoint ("host:port"), unconnected.
func New(endpoint string, opts Options) *Controller {
	c := &Controller{
		endpoint:       endpoint,
		opts:           opts,
		logger:         golog.Child("controller").Child(endpoint),
		bus:            event.NewBus(),
		devices:        cmap.New[*Device](),
		remoteAuthMode: opts.RemoteAuthorization != nil,
		state:          StateConnecting,
	}
	c.rest = transport.NewRESTClient(transport.RESTOptions{
		BaseURL: fmt.Sprintf("http://%s/api/v1/", endpoint),
		Timeout: opts.httpTimeout(),
		Token:   opts.Token,
	})
	c.channel = transport.NewChannel(fmt.Sprintf("ws://%s/client", endpoint))
	c.channel.On(transport.EventOpen, c.onChannelOpen)
	c.channel.On(transport.EventMessage, c.onChannelMessage)
	c.channel.On(transport.EventClose, c.onChannelClose)
	c.channel.On(transport.EventError, c.onChannelError)
	return c
}

// On subscribes to one of the controller-level events.
func (c *Controller) On(name string, fn event.Listener) (unsubscribe func()) {
	return c.bus.On(name, fn)
}

// Stream returns the reactive multicast bridge.
func (c *Controller) Stream() *event.Stream {
	return c.bus.Stream()
}

// State reports the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect performs the REST bootstrap and opens the message channel,
// blocking until the connection reaches a terminal-for-this-attempt state
// (Active, Failure, or Unauthorized) or ctx is done. ConnectionFailure is
// returned as a status, not an error.
func (c *Controller) Connect(ctx context.Context) (ConnectionState, error) {
	c.mu.Lock()
	c.manuallyDisconnected = false
	settle := async.New[ConnectionState]()
	c.connectSettle = settle
	c.mu.Unlock()

	c.setState(StateConnecting)

	go c.runConnect(ctx)

	return settle.Wait(ctx)
}

func (c *Controller) runConnect(ctx context.Context) {
	if _, err := c.rest.Get(ctx, "general", nil); err != nil {
		c.logger.Errorf("rest bootstrap failed: %v", err)
		c.setState(StateFailure)
		return
	}

	if err := c.channel.Open(ctx); err != nil {
		c.logger.Errorf("channel open failed: %v", err)
		c.setState(StateFailure)
		return
	}
}

// Disconnect closes the channel, clears the device map, and transitions to
// StateDisconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.manuallyDisconnected = true
	c.devicesEnumerated = false
	c.mu.Unlock()

	c.cancelReconnect()
	c.cancelWatchdog()
	c.cancelRemoteAuthTimeout()
	c.channel.Close()
	c.devices.Clear()
	c.setState(StateDisconnected)
}

// setState applies the new state, emitting CONNECTION_STATUS_CHANGED iff
// it actually changed.
func (c *Controller) setState(s ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	settle := c.connectSettle
	c.mu.Unlock()

	c.bus.Emit(EventConnectionStatusChanged, map[string]any{"status": s.String()})

	if settle == nil {
		return
	}
	switch s {
	case StateActive, StateFailure, StateUnauthorized:
		settle.Resolve(s)
	}
}

// --- channel event handlers ---

func (c *Controller) onChannelOpen(any) {
	c.bus.Emit(EventWSConnected, nil)
	if c.remoteAuthMode {
		c.channel.Send(remoteAuthMessage(c.opts.RemoteAuthorization))
		c.armRemoteAuthTimeout()
		return
	}
	c.channel.Send(getBrainStatMessage())
}

// armRemoteAuthTimeout starts (replacing any prior) the hard ceiling on a
// remote-auth handshake: if no authorized_message arrives within
// connectionTimeout, the controller forces its own disconnect rather than
// waiting indefinitely.
func (c *Controller) armRemoteAuthTimeout() {
	c.remoteAuthMu.Lock()
	defer c.remoteAuthMu.Unlock()
	if c.remoteAuthTimer != nil {
		c.remoteAuthTimer.Stop()
	}
	c.remoteAuthTimer = time.AfterFunc(connectionTimeout, c.onRemoteAuthTimeout)
}

func (c *Controller) cancelRemoteAuthTimeout() {
	c.remoteAuthMu.Lock()
	defer c.remoteAuthMu.Unlock()
	if c.remoteAuthTimer != nil {
		c.remoteAuthTimer.Stop()
		c.remoteAuthTimer = nil
	}
}

func (c *Controller) onRemoteAuthTimeout() {
	c.logger.Errorf("remote authorization timed out after %s with no authorized_message", connectionTimeout)
	c.setState(StateFailure)
	c.Disconnect()
}

func (c *Controller) onChannelMessage(payload any) {
	text, _ := payload.(string)
	if text == "" {
		return
	}
	var msg map[string]any
	if err := jsonCodec.Unmarshal([]byte(text), &msg); err != nil {
		c.logger.Debugf("controller: non-JSON inbound message ignored: %v", err)
		return
	}

	c.bus.Emit(EventWSMessage, msg)

	kind, _ := msg["type"].(string)
	switch kind {
	case inPacketBrainStatus:
		c.handleBrainStatus(msg)
	case inPacketBrainColor:
		c.bus.Emit(EventColorMessage, msg)
	case inPacketExpressMode:
		c.handleExpressMode(msg)
	case inPacketUnauthorized:
		c.handleUnauthorized(msg)
	case inPacketAuthorized:
		c.handleAuthorized(msg)
	case inPacketStateChange:
		c.handleStateChange(msg)
	case inPacketSystemState:
		c.handleSystemState(msg)
	default:
		if len(kind) >= len("handset_") && kind[:len("handset_")] == "handset_" {
			c.bus.Emit(EventHandsetMessage, msg)
		} else {
			c.bus.Emit(EventBrainEvent, msg)
		}
	}
}

func (c *Controller) onChannelClose(any) {
	c.cancelRemoteAuthTimeout()
	c.mu.Lock()
	manual := c.manuallyDisconnected
	c.mu.Unlock()
	if manual {
		return
	}
	c.bus.Emit(EventWSClosed, nil)
	c.setState(StateReconnecting)
	c.scheduleReconnect()
}

func (c *Controller) onChannelError(err any) {
	c.logger.Errorf("channel error: %v", err)
}

// handleBrainStatus handles brain_status_message. A provisioned=false
// payload is left as a no-op pass-through beyond the generic
// STATUS_MESSAGE emit below.
func (c *Controller) handleBrainStatus(msg map[string]any) {
	c.bus.Emit(EventStatusMessage, msg)
	provisioned := asBool(msg["provisioned"])
	if provisioned && !c.remoteAuthMode {
		c.channel.Send(getExpressModeMessage())
	}
}

func (c *Controller) handleExpressMode(msg map[string]any) {
	enabled := asBool(msg["enabled"])
	c.mu.Lock()
	c.expressMode = enabled
	c.mu.Unlock()
	c.bus.Emit(EventExpressMode, map[string]any{"enabled": enabled})

	if !enabled {
		return
	}
	c.setState(StateAuthorizing)
	c.channel.Send(passcodeAuthMessage(""))
}

func (c *Controller) handleUnauthorized(map[string]any) {
	c.setState(StateUnauthorized)
	c.bus.Emit(EventPinRequired, nil)

	if c.opts.PIN == nil {
		return
	}
	go func() {
		pin, err := c.opts.PIN(brainerr.ErrUnauthorized)
		if err != nil {
			c.logger.Errorf("pin supplier declined: %v", err)
			return
		}
		if _, err := c.SubmitPin(context.Background(), pin); err != nil {
			c.logger.Errorf("pin resubmission failed: %v", err)
		}
	}()
}

func (c *Controller) handleAuthorized(msg map[string]any) {
	c.cancelRemoteAuthTimeout()
	c.mu.Lock()
	c.brainID = asString(msg["brain_id"])
	c.sessionID = asString(msg["session_id"])
	c.authToken = asString(msg["token"])
	c.mu.Unlock()
	c.setState(StateActive)
	c.bus.Emit(EventAuthorized, msg)
}

func (c *Controller) handleStateChange(msg map[string]any) {
	for _, change := range parseStateChanges(msg) {
		dev, ok := c.devices.Get(change.DeviceID)
		if !ok {
			c.logger.Debugf("state change for unknown device %q", change.DeviceID)
			continue
		}
		dev.applyStateChange(change)
		if change.StateID == secondStateID && dev.IsSystem {
			c.resetWatchdog()
		}
	}
}

func (c *Controller) handleSystemState(msg map[string]any) {
	state := asString(msg["state"])
	switch {
	case systemStateSynchronizing[state]:
		c.setState(StateSynchronizing)
	case isSystemStateActive(state):
		c.mu.Lock()
		wasEnumerated := c.devicesEnumerated
		c.mu.Unlock()
		if wasEnumerated {
			go c.enumerateDevices(context.Background())
		}
		c.setState(StateActive)
	case isSystemStateFailure(state):
		c.setState(StateFailure)
	}
}

// SubmitPin sends a PIN after an Unauthorized status and waits for the
// controller's next Authorized or PIN_REQUIRED reply.
func (c *Controller) SubmitPin(ctx context.Context, pin string) (ConnectionState, error) {
	done := make(chan struct{})
	var offAuth, offUnauth func()
	offAuth = c.bus.On(EventAuthorized, func(any) {
		offAuth()
		offUnauth()
		close(done)
	})
	offUnauth = c.bus.On(EventPinRequired, func(any) {
		offAuth()
		offUnauth()
		close(done)
	})

	c.setState(StateAuthorizing)
	c.channel.Send(passcodeAuthMessage(pin))

	select {
	case <-done:
		return c.State(), nil
	case <-ctx.Done():
		offAuth()
		offUnauth()
		return c.State(), brainerr.Wrap(brainerr.Timeout, "waiting for pin response", ctx.Err())
	}
}

// --- auxiliary fire-and-forget sends, used by Device ---

func (c *Controller) sendWatchStates(deviceID string, watch bool) {
	c.channel.Send(watchStatesMessage(deviceID, watch, nil))
}

func (c *Controller) sendMacro(deviceID, driverID, categoryID, capabilityID, commandID string, params map[string]string) {
	c.channel.Send(sendMacroMessage(deviceID, driverID, categoryID, capabilityID, commandID, params))
}

// SendUIAction sends an arbitrary UI action over the channel.
func (c *Controller) SendUIAction(action string, payload any) {
	c.channel.Send(uiMessage(action, payload))
}

// SetHandset sends a handset layout assignment.
func (c *Controller) SetHandset(handsetID string, layout any) {
	c.channel.Send(setHandsetMessage(handsetID, layout))
}

// --- device enumeration ---

// GetDevices returns the full device catalog, enumerating lazily on first
// call.
func (c *Controller) GetDevices(ctx context.Context) (map[string]*Device, error) {
	if err := c.ensureDevicesEnumerated(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]*Device)
	c.devices.IterCb(func(id string, d *Device) bool {
		out[id] = d
		return true
	})
	return out, nil
}

// GetDevice looks up one device by id, enumerating lazily.
func (c *Controller) GetDevice(ctx context.Context, id string) (*Device, error) {
	if err := c.ensureDevicesEnumerated(ctx); err != nil {
		return nil, err
	}
	d, ok := c.devices.Get(id)
	if !ok {
		return nil, brainerr.New(brainerr.InvalidState, "unknown device "+id)
	}
	return d, nil
}

// GetSystemDevice returns the synthetic system device, enumerating lazily.
func (c *Controller) GetSystemDevice(ctx context.Context) (*Device, error) {
	if err := c.ensureDevicesEnumerated(ctx); err != nil {
		return nil, err
	}
	var found *Device
	c.devices.IterCb(func(_ string, d *Device) bool {
		if d.IsSystem {
			found = d
			return false
		}
		return true
	})
	if found == nil {
		return nil, brainerr.New(brainerr.InvalidState, "no system device enumerated")
	}
	return found, nil
}

func (c *Controller) ensureDevicesEnumerated(ctx context.Context) error {
	c.mu.Lock()
	if c.devicesEnumerated {
		c.mu.Unlock()
		return nil
	}
	if c.enumerateInFlight != nil {
		d := c.enumerateInFlight
		c.mu.Unlock()
		_, err := d.Wait(ctx)
		return err
	}
	d := async.New[struct{}]()
	c.enumerateInFlight = d
	c.mu.Unlock()

	err := c.enumerateDevices(ctx)

	c.mu.Lock()
	c.enumerateInFlight = nil
	if err == nil {
		c.devicesEnumerated = true
	}
	c.mu.Unlock()

	if err != nil {
		d.Reject(err)
	} else {
		d.Resolve(struct{}{})
	}
	return err
}

// enumerateDevices fetches the device list and each device's driver,
// instantiating new Device objects or refreshing existing ones in place so
// identity is preserved across re-enumeration.
func (c *Controller) enumerateDevices(ctx context.Context) error {
	resp, err := c.rest.Get(ctx, "devices", nil)
	if err != nil {
		return err
	}

	for _, w := range parseDeviceList(resp.Body) {
		dev, existing := c.devices.Get(w.ID)
		if !existing {
			dev = newDevice(c, w)
			c.devices.Set(w.ID, dev)
		}

		driverResp, err := c.rest.Get(ctx, driverFetchEndpoint(w.DriverID, w.DriverVersion), nil)
		if err != nil {
			dev.applyCatalog(nil, err)
			continue
		}
		desc, err := parseDriverDescriptor(driverResp.Body)
		if err != nil {
			dev.applyCatalog(nil, err)
			continue
		}
		catalog, err := driver.Normalize(desc)
		dev.applyCatalog(catalog, err)
		if existing {
			dev.rearm()
		}
	}
	return nil
}

// --- reconnect ---

func (c *Controller) scheduleReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(c.opts.reconnectWait(), c.attemptReconnect)
}

func (c *Controller) cancelReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Controller) attemptReconnect() {
	c.mu.Lock()
	if c.manuallyDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	var off func()
	off = c.bus.On(EventConnectionStatusChanged, func(payload any) {
		fields, _ := payload.(map[string]any)
		if fields == nil {
			return
		}
		if fields["status"] == StateActive.String() {
			off()
			c.devices.IterCb(func(_ string, d *Device) bool { d.rearm(); return true })
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := c.channel.Open(ctx); err != nil {
		c.logger.Errorf("reconnect attempt failed: %v", err)
		c.setState(StateReconnecting)
		c.scheduleReconnect()
	}
}

// --- watchdog ---

// resetWatchdog arms (or re-arms) the liveness watchdog on observing a
// system-device second-state tick. It only activates once at least one
// device has a subscription.
func (c *Controller) resetWatchdog() {
	if !c.opts.WatchdogEnabled || !c.anyDeviceSubscribed() {
		return
	}

	c.watchdogMu.Lock()
	defer c.watchdogMu.Unlock()
	if c.watchdogTimer != nil {
		c.watchdogTimer.Stop()
	}
	c.watchdogArmed = true
	c.watchdogTimer = time.AfterFunc(c.opts.watchdogTimeout(), c.onWatchdogExpired)
}

func (c *Controller) cancelWatchdog() {
	c.watchdogMu.Lock()
	defer c.watchdogMu.Unlock()
	if c.watchdogTimer != nil {
		c.watchdogTimer.Stop()
		c.watchdogTimer = nil
	}
	c.watchdogArmed = false
}

func (c *Controller) onWatchdogExpired() {
	if !c.anyDeviceSubscribed() {
		return
	}
	c.logger.Warnf("watchdog expired: no system-device state change within %s, restarting", c.opts.watchdogTimeout())
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if _, err := c.rest.Post(ctx, "restart", nil); err != nil {
		c.logger.Errorf("watchdog restart failed: %v", err)
	}
	c.resetWatchdog()
}

func (c *Controller) anyDeviceSubscribed() bool {
	subscribed := false
	c.devices.IterCb(func(_ string, d *Device) bool {
		d.mu.RLock()
		if d.watchRequested {
			subscribed = true
		}
		d.mu.RUnlock()
		return !subscribed
	})
	return subscribed
}
