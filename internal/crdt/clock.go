package crdt

import "sync"

// Clock is a Lamport logical clock shared by a storage document. It is
// monotonic: Tick never returns a value already handed out, and Merge never
// moves it backwards.
type Clock struct {
	mu    sync.Mutex
	value uint64
}

// NewClock creates a clock starting at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Tick increments and returns the new value.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Merge folds a remote clock value in (component-wise max). The next Tick
// is then guaranteed to exceed any clock value observed so far.
func (c *Clock) Merge(remote uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.value {
		c.value = remote
	}
}

// Current returns the clock's value without advancing it.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
