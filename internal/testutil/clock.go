package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant reported by a StepClock.
var Epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic engine.Clock for tests.
//
// Every call to Now() advances the clock by a fixed step, so the same
// scenario always stamps the same times on the same actions. It can be
// reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	step  time.Duration
	ticks int64
}

// NewStepClock creates a clock advancing by step. A zero step means one
// millisecond. The first call to Now() returns Epoch.
func NewStepClock(step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Millisecond
	}
	return &StepClock{step: step}
}

// Now returns the next instant.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now() has been called.
func (c *StepClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock. After Reset(), the next call to Now() returns Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
