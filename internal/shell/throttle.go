package shell

import (
	"sync"
	"time"
)

// coalescer collapses rapid calls into at most one invocation per window:
// the first call runs immediately, calls arriving inside the window are
// folded into a single trailing invocation with the latest argument.
type coalescer[T any] struct {
	window time.Duration
	fn     func(T)

	mu      sync.Mutex
	open    bool
	pending bool
	latest  T
}

func newCoalescer[T any](window time.Duration, fn func(T)) *coalescer[T] {
	return &coalescer[T]{window: window, fn: fn}
}

// Call invokes the underlying function, or records the argument for the
// trailing invocation when a window is already open.
func (c *coalescer[T]) Call(arg T) {
	c.mu.Lock()
	if c.open {
		c.pending = true
		c.latest = arg
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()

	go c.fn(arg)
	time.AfterFunc(c.window, c.fire)
}

func (c *coalescer[T]) fire() {
	c.mu.Lock()
	if !c.pending {
		c.open = false
		c.mu.Unlock()
		return
	}
	arg := c.latest
	c.pending = false
	var zero T
	c.latest = zero
	c.mu.Unlock()

	go c.fn(arg)
	time.AfterFunc(c.window, c.fire)
}
