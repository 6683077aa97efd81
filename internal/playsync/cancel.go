// internal/playsync/cancel.go
package playsync

import (
	"sync"
	"sync/atomic"
)

// CancelHandle is a monotonic two-state cancellation token shared between a
// playback request and every source it admits to the mixer. It transitions
// once, from untouched to cancelled, and wakes all waiters on either the
// transition or an externally-signalled completion flag.
type CancelHandle struct {
	inner *cancelInner
}

type cancelInner struct {
	mu        sync.Mutex
	cond      *sync.Cond
	cancelled bool
}

// NewCancelHandle creates a new, untouched cancel handle.
func NewCancelHandle() CancelHandle {
	inner := &cancelInner{}
	inner.cond = sync.NewCond(&inner.mu)
	return CancelHandle{inner: inner}
}

// IsCancelled reports whether Cancel has been called.
func (h CancelHandle) IsCancelled() bool {
	h.inner.mu.Lock()
	defer h.inner.mu.Unlock()
	return h.inner.cancelled
}

// Cancel transitions the handle to cancelled and wakes all waiters.
// Cancelling an already-cancelled handle is a no-op.
func (h CancelHandle) Cancel() {
	h.inner.mu.Lock()
	defer h.inner.mu.Unlock()
	if !h.inner.cancelled {
		h.inner.cancelled = true
		h.inner.cond.Broadcast()
	}
}

// Notify wakes all waiters so they can re-check the finished flag.
// Called by completion monitors when the flag turns true.
func (h CancelHandle) Notify() {
	h.inner.mu.Lock()
	defer h.inner.mu.Unlock()
	h.inner.cond.Broadcast()
}

// Wait blocks until the handle is cancelled or finished becomes true.
// The finished flag is owned by the caller; whoever sets it must call
// Notify to wake waiters.
func (h CancelHandle) Wait(finished *atomic.Bool) {
	h.inner.mu.Lock()
	defer h.inner.mu.Unlock()
	for !h.inner.cancelled && !finished.Load() {
		h.inner.cond.Wait()
	}
}
