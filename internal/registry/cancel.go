package registry

import "sync"

// CancelEvent is a one-shot cooperative cancellation signal. Handlers poll
// Cancelled() at suspension points; Set() is idempotent and safe to call
// from any goroutine, including the watchdog and the cancel endpoint
// concurrently (spec §4.4 Design Note: "atomic flag plus closed-channel
// broadcast, not a bare bool").
type CancelEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelEvent constructs an unfired event.
func NewCancelEvent() *CancelEvent {
	return &CancelEvent{ch: make(chan struct{})}
}

// Set fires the event. Calling it more than once is a no-op.
func (c *CancelEvent) Set() {
	c.once.Do(func() { close(c.ch) })
}

// Cancelled reports whether Set has been called.
func (c *CancelEvent) Cancelled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event fires, for use in select
// statements alongside context cancellation or I/O.
func (c *CancelEvent) Done() <-chan struct{} {
	return c.ch
}
