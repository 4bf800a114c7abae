// Package cancel provides the shared abort signal consulted before new
// invocations are accepted.
package cancel

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the shared cause reported for every invocation rejected
// after cancellation
var ErrCancelled = errors.New("execution cancelled")

// Coordinator holds a single idempotent abort signal
type Coordinator struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
	rejected  atomic.Int64
}

// NewCoordinator creates a coordinator that is not cancelled
func NewCoordinator() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Cancel raises the abort signal. Calling it more than once has no effect.
func (c *Coordinator) Cancel() {
	c.once.Do(func() {
		c.cancelled.Store(true)
		close(c.done)
	})
}

// Cancelled reports whether Cancel was called
func (c *Coordinator) Cancelled() bool {
	return c.cancelled.Load()
}

// Done is closed once Cancel was called
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Check returns ErrCancelled once cancelled and counts the rejection
func (c *Coordinator) Check() error {
	if !c.cancelled.Load() {
		return nil
	}
	c.rejected.Add(1)
	return ErrCancelled
}

// Rejected returns how many invocations Check turned away
func (c *Coordinator) Rejected() int64 {
	return c.rejected.Load()
}

// IsCancellation reports whether err is or wraps the shared cancellation cause
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}
