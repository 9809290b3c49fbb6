package clock

import (
	"sync"
	"time"
)

// VirtualClock is a manually driven Clock. Waiters registered with After
// fire when Advance or Set moves the clock past their deadline. In
// auto-advance mode every After call jumps the clock to its own deadline
// instead, which lets a whole replay run in zero wall time.
//
// Safe for concurrent use.
type VirtualClock struct {
	mu      sync.RWMutex
	now     time.Time
	auto    bool
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// NewAutoClock returns a VirtualClock in auto-advance mode.
func NewAutoClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start, auto: true}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *VirtualClock) Since(t time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now.Sub(t)
}

func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}

	deadline := c.now.Add(d)
	if c.auto {
		c.now = deadline
		c.fire()
		ch <- c.now
		return ch
	}

	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward. It panics on a negative duration.
func (c *VirtualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	c.fire()
}

// Set jumps the clock to t. It panics if t is before the current time.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.now) {
		panic("clock: cannot set time to the past")
	}

	c.now = t
	c.fire()
}

// Pending reports how many After channels are still waiting.
func (c *VirtualClock) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.waiters)
}

// fire must be called with c.mu held.
func (c *VirtualClock) fire() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.deadline.After(c.now) {
			remaining = append(remaining, w)
			continue
		}

		w.ch <- c.now
	}

	c.waiters = remaining
}
