package service

import (
	"context"
	"sync"
)

// Handle is the cancellation token returned by every asynchronous synchronizer
// operation. Cancel is safe to call at any time, any number of times.
type Handle struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	done     chan struct{}
	err      error
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel, done: make(chan struct{})}
}

// completedHandle returns a handle that is already done with err.
func completedHandle(err error) *Handle {
	h := newHandle(nil)
	h.finish(err)
	return h
}

// Cancel aborts the operation. A canceled operation never writes state.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.canceled = true
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the operation has finished, been canceled or been superseded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns nil while running or on success, context.Canceled when canceled or
// superseded, or the failure otherwise.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// chain hands cancellation over to next, the follow-up operation started by h.
func (h *Handle) chain(next *Handle) {
	h.mu.Lock()
	h.cancel = next.Cancel
	canceled := h.canceled
	h.mu.Unlock()
	if canceled {
		next.Cancel()
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.err = err
	close(h.done)
}
