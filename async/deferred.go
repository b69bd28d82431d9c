// Package async provides the deferred-completion primitive: a
// one-shot awaitable that is resolvable from outside. The controller uses
// one to settle Connect and one to single-flight device enumeration;
// devices use them for the first-state-change wait and to await state
// changes triggered by a sent command. The individual handshake steps
// (provisioning, express mode, authorization) have no completion of their
// own: they advance on inbound messages and settle Connect through it.
//
// Grounded on server/common/event.go, which pairs a
// registered callback with a "finish"/"remove" channel and a select-based
// wait with timeout. Deferred generalises that into a reusable value type
// instead of a global trigger-keyed registry, since here each handshake
// step or command owns its own completion rather than sharing one process-
// wide map.
package async

import (
	"context"
	"sync"

	"github.com/kramer-control/brain-client-go/brainerr"
)

// Deferred is a one-shot, externally resolvable completion. It may be
// settled (via Resolve or Reject) at most once; further settlement attempts
// are no-ops. Callers await the outcome with Wait, which layers a caller-
// supplied context as the timeout mechanism since Deferred itself has none.
type Deferred[T any] struct {
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	value T
	err   error
}

// New returns a fresh, unsettled Deferred.
func New[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles the completion with a value. Only the first call (across
// Resolve and Reject) has any effect.
func (d *Deferred[T]) Resolve(value T) {
	d.once.Do(func() {
		d.mu.Lock()
		d.value = value
		d.mu.Unlock()
		close(d.done)
	})
}

// Reject settles the completion with an error. Only the first call (across
// Resolve and Reject) has any effect.
func (d *Deferred[T]) Reject(err error) {
	d.once.Do(func() {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(d.done)
	})
}

// Settled reports whether the completion has already been resolved or
// rejected.
func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the completion settles, for callers
// that want to select on it alongside other cases.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the completion settles or ctx is done, whichever comes
// first. A settled completion returns immediately regardless of ctx.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.outcome()
	default:
	}
	select {
	case <-d.done:
		return d.outcome()
	case <-ctx.Done():
		var zero T
		return zero, brainerr.Wrap(brainerr.Timeout, "deferred completion", ctx.Err())
	}
}

func (d *Deferred[T]) outcome() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.err
}
