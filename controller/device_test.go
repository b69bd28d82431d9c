package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kramer-control/brain-client-go/brainerr"
	"github.com/kramer-control/brain-client-go/driver"
)

func testCatalog() driver.Catalog {
	systemState := &driver.State{ID: "SYSTEM_STATE", Name: "SYSTEM_STATE", Type: "string", Value: "OFF", NormalizedValue: "OFF"}
	volume := &driver.State{ID: "VOLUME", Name: "VOLUME", Type: "number", Value: "10", NormalizedValue: 10.0, IsCustomState: true}

	setUse := &driver.Command{
		ID: "SET_SYSTEM_USE", Name: "SET_SYSTEM_USE", Category: "power", Capability: "power",
		States: map[string]*driver.State{"SYSTEM_STATE": systemState},
		Params: map[string]*driver.Parameter{"SYSTEM_STATE": {Name: "SYSTEM_STATE", Dynamic: true, StateID: "SYSTEM_STATE"}},
	}
	queryUse := &driver.Command{
		ID: "QUERY_SYSTEM_USE", Name: "QUERY_SYSTEM_USE", Category: "power", Capability: "power",
		States: map[string]*driver.State{"SYSTEM_STATE": systemState},
		Params: map[string]*driver.Parameter{},
	}

	return driver.Catalog{
		"power": &driver.Category{
			Name: "Power", RefID: "power",
			States:   map[string]*driver.State{"SYSTEM_STATE": systemState, "VOLUME": volume},
			Commands: []*driver.Command{setUse, queryUse},
		},
	}
}

func newTestDevice(t *testing.T, isSystem bool) *Device {
	t.Helper()
	ctrl := New("127.0.0.1:8000", Options{})
	dev := newDevice(ctrl, deviceWire{ID: "dev1", Name: "Device 1", DriverID: "drv1", IsSystemDevice: isSystem})
	dev.applyCatalog(testCatalog(), nil)
	ctrl.devices.Set(dev.ID, dev)
	return dev
}

func TestDeviceGetCommandsAndCommand(t *testing.T) {
	dev := newTestDevice(t, false)

	cmds := dev.GetCommands()
	require.Len(t, cmds, 2)

	cmd, err := dev.GetCommand("SET_SYSTEM_USE")
	require.NoError(t, err)
	require.Equal(t, "SET_SYSTEM_USE", cmd.ID)

	_, err = dev.GetCommand("NOPE")
	require.ErrorIs(t, err, brainerr.ErrInvalidCommand)
}

func TestDeviceSendCommandResolvesOnStateChange(t *testing.T) {
	dev := newTestDevice(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan map[string]string, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := dev.SendCommand(ctx, "SET_SYSTEM_USE", map[string]string{"system_state": "ON"})
		resultCh <- result
		errCh <- err
	}()

	// give SendCommand a moment to register its pending waiter
	time.Sleep(20 * time.Millisecond)
	dev.applyStateChange(stateChangeWire{
		DeviceID: dev.ID, StateID: "SYSTEM_STATE", StateKey: "system_state",
		StateName: "SYSTEM_STATE", StateValue: "ON", StateNormalizedValue: "ON",
	})

	require.NoError(t, <-errCh)
	require.Equal(t, map[string]string{"SYSTEM_STATE": "ON"}, <-resultCh)
}

func TestDeviceSetCustomStateRequiresSystemDevice(t *testing.T) {
	dev := newTestDevice(t, false)
	_, err := dev.SetCustomState(context.Background(), "VOLUME", "42")
	require.ErrorIs(t, err, brainerr.ErrNotSystemDevice)
}

func TestDeviceSetCustomStateRejectsNonCustomState(t *testing.T) {
	dev := newTestDevice(t, true)
	_, err := dev.SetCustomState(context.Background(), "SYSTEM_STATE", "42")
	require.ErrorIs(t, err, brainerr.ErrInvalidState)
}

func TestDeviceSetCustomStateResolvesOnNextStateChange(t *testing.T) {
	dev := newTestDevice(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type out struct {
		state *driver.State
		err   error
	}
	ch := make(chan out, 1)
	go func() {
		s, err := dev.SetCustomState(ctx, "VOLUME", "42")
		ch <- out{s, err}
	}()

	time.Sleep(20 * time.Millisecond)
	dev.applyStateChange(stateChangeWire{
		DeviceID: dev.ID, StateID: "VOLUME", StateKey: "volume",
		StateName: "VOLUME", StateValue: "42", StateNormalizedValue: 42.0,
	})

	result := <-ch
	require.NoError(t, result.err)
	require.Equal(t, "42", result.state.Value)
	require.Equal(t, 42.0, result.state.NormalizedValue)
}

func TestDeviceGetStateWaitsForFirstChange(t *testing.T) {
	dev := newTestDevice(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		dev.applyStateChange(stateChangeWire{
			DeviceID: dev.ID, StateID: "SYSTEM_STATE", StateValue: "ON", StateNormalizedValue: "ON",
		})
	}()

	s, err := dev.GetState(ctx, "SYSTEM_STATE")
	require.NoError(t, err)
	require.Equal(t, "ON", s.Value)

	// second call returns immediately without waiting again
	fastCtx, fastCancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer fastCancel()
	s2, err := dev.GetState(fastCtx, "SYSTEM_STATE")
	require.NoError(t, err)
	require.Equal(t, "ON", s2.Value)
}

func TestDeviceWatchArbitrationIdempotent(t *testing.T) {
	dev := newTestDevice(t, false)

	off1 := dev.On(EventStateChanged, func(any) {})
	off2 := dev.On(EventStateChanged, func(any) {})
	require.True(t, dev.watchRequested)

	off1()
	require.True(t, dev.watchRequested, "still one listener left, watch should stay armed")

	off2()
	require.False(t, dev.watchRequested)
}
