package event_test

import (
	"testing"
	"time"

	"github.com/kramer-control/brain-client-go/event"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := event.NewBus()
	var order []int
	bus.On("x", func(any) { order = append(order, 1) })
	bus.On("x", func(any) { order = append(order, 2) })
	bus.Emit("x", nil)
	require.Equal(t, []int{1, 2}, order)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := event.NewBus()
	calls := 0
	unsubscribe := bus.On("x", func(any) { calls++ })
	bus.Emit("x", nil)
	unsubscribe()
	bus.Emit("x", nil)
	require.Equal(t, 1, calls)
	require.Equal(t, 0, bus.ListenerCount("x"))
}

func TestStreamMirrorsEmissions(t *testing.T) {
	bus := event.NewBus()
	ch, unsubscribe := bus.Stream().Subscribe(4)
	defer unsubscribe()

	bus.Emit("STATE_CHANGED", map[string]any{"id": "s1", "value": "42"})

	select {
	case env := <-ch:
		require.Equal(t, "STATE_CHANGED", env.Event)
	case <-time.After(time.Second):
		t.Fatal("expected envelope on stream")
	}
}
