package server

import "sync/atomic"

// ConnCounter tracks accepted client connections. It is the only mutable
// state shared across requests, so updates are atomic. The lifecycle
// controller owns the instance and resets it on every start; no ambient
// globals.
type ConnCounter struct {
	n        atomic.Int64
	onChange func(int64)
}

// NewConnCounter creates a counter. onChange, if non-nil, is invoked with
// the new total after every increment, decrement, and reset; it must not
// block.
func NewConnCounter(onChange func(int64)) *ConnCounter {
	return &ConnCounter{onChange: onChange}
}

// Inc records an accepted connection.
func (c *ConnCounter) Inc() {
	c.notify(c.n.Add(1))
}

// Dec records a closed connection.
func (c *ConnCounter) Dec() {
	c.notify(c.n.Add(-1))
}

// Reset zeroes the counter. Called on every server start.
func (c *ConnCounter) Reset() {
	c.n.Store(0)
	c.notify(0)
}

// Count returns the current number of open connections.
func (c *ConnCounter) Count() int64 {
	return c.n.Load()
}

func (c *ConnCounter) notify(n int64) {
	if c.onChange != nil {
		c.onChange(n)
	}
}
