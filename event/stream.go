package event

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// jsonCodec mirrors a no-HTML-escaping, sorted-map-keys configuration for
// stable wire output.
var jsonCodec = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// Envelope is one entry on a Stream: the event name plus its payload,
// rendered as "{event, …payload}" when marshalled.
type Envelope struct {
	Event   string
	Payload any
}

// MarshalJSON flattens Payload's fields alongside "event", so a struct or
// map payload appears as siblings of the event name rather than nested
// under a "payload" key.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := map[string]any{"event": e.Event}
	if e.Payload != nil {
		raw, err := jsonCodec.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := jsonCodec.Unmarshal(raw, &fields); err == nil {
			for k, v := range fields {
				out[k] = v
			}
		} else {
			out["payload"] = e.Payload
		}
	}
	return jsonCodec.Marshal(out)
}

// Stream is a non-blocking multicast of every event emitted on a Bus,
// rendered as Envelope values. Grounded on the pack's events.Bus
// (nugget-thane-ai-agent): subscribers get their own buffered channel and
// a slow subscriber misses events rather than blocking the publisher.
type Stream struct {
	mu   sync.RWMutex
	subs map[chan Envelope]struct{}
}

func newStream() *Stream {
	return &Stream{subs: make(map[chan Envelope]struct{})}
}

// Subscribe returns a receive-only channel of envelopes and an unsubscribe
// function. bufferSize of 0 uses a reasonable default.
func (s *Stream) Subscribe(bufferSize int) (<-chan Envelope, func()) {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	ch := make(chan Envelope, bufferSize)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

func (s *Stream) publish(event string, payload any) {
	env := Envelope{Event: event, Payload: payload}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- env:
		default:
			// slow subscriber, drop rather than block the emitter.
		}
	}
}
