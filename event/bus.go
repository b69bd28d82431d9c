// Package event implements the multi-listener pub/sub bus shared by
// Controller and Device, plus the optional reactive stream bridge that
// mirrors every emission onto a multicast channel.
//
// Grounded on a trigger-keyed callback registry, generalised from a single
// process-wide map into a bus value each Controller/Device owns, and on the
// listener-bookkeeping shape seen in the pack's events.Bus
// (other_examples, nugget-thane-ai-agent) for the add/remove-by-token
// pattern.
package event

import "sync"

// Listener receives an event's payload. Payload shape is event-specific;
// callers type-assert it.
type Listener func(payload any)

type entry struct {
	id uint64
	fn Listener
}

// Bus is a named-event pub/sub multiplexer. Delivery within one Emit call
// is synchronous and in listener-registration order, so callers that only
// ever Emit from one owning goroutine get "inbound messages processed in
// arrival order" for free.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]entry
	nextID    uint64
	stream    *Stream
}

// NewBus returns an empty bus ready for use.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]entry)}
}

// On registers fn for name and returns a function that removes it. Safe to
// call concurrently with Emit.
func (b *Bus) On(name string, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], entry{id: id, fn: fn})
	b.mu.Unlock()

	return func() { b.off(name, id) }
}

func (b *Bus) off(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.listeners[name]
	for i, e := range entries {
		if e.id == id {
			b.listeners[name] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
}

// ListenerCount reports how many listeners are currently registered for
// name; used by Device to decide when to send watch/unwatch.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Emit calls every listener registered for name, in registration order,
// then, if a reactive stream has been requested via Stream, mirrors
// the event onto it.
func (b *Bus) Emit(name string, payload any) {
	b.mu.RLock()
	entries := append([]entry(nil), b.listeners[name]...)
	stream := b.stream
	b.mu.RUnlock()

	for _, e := range entries {
		e.fn(payload)
	}
	if stream != nil {
		stream.publish(name, payload)
	}
}

// Stream lazily creates (on first call) and returns the reactive bridge
// that mirrors every subsequent Emit. Calling Stream more than once
// returns the same instance.
func (b *Bus) Stream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		b.stream = newStream()
	}
	return b.stream
}
