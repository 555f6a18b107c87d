package pipe

import (
	"context"
	"sync"
)

// Waiter a level-triggered event. Wait blocks until the event is set; Clear
// arms it again.
type Waiter struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while the event is set
}

func NewWaiter() *Waiter {
	return &Waiter{ch: make(chan struct{})}
}

// Set signals the event, waking every waiter.
func (w *Waiter) Set() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.set {
		w.set = true
		close(w.ch)
	}
}

// Clear re-arms the event.
func (w *Waiter) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.set {
		w.set = false
		w.ch = make(chan struct{})
	}
}

// IsSet reports the current state.
func (w *Waiter) IsSet() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.set
}

// Wait blocks until the event is set or ctx is done.
func (w *Waiter) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		if w.set {
			w.mu.Unlock()
			return nil
		}
		wait := w.ch
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}
