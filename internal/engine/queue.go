package engine

import "sync"

// wakeup is a coalescing, closable signal.
//
// Notify never blocks: the buffer of one collapses any number of pending
// notifications into a single wake. Close wakes every waiter permanently, so
// a select on Wait() also observes shutdown.
type wakeup struct {
	mu     sync.Mutex
	closed bool
	signal chan struct{}
}

func newWakeup() *wakeup {
	return &wakeup{signal: make(chan struct{}, 1)}
}

// Notify requests a wake. Returns false once closed.
func (w *wakeup) Notify() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
	return true
}

// Wait returns the channel to select on.
func (w *wakeup) Wait() <-chan struct{} {
	return w.signal
}

// Closed reports whether Close has been called.
func (w *wakeup) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close wakes all waiters; later Notify calls are no-ops.
func (w *wakeup) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.signal)
}
