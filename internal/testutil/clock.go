package testutil

import (
	"sync"
	"time"
)

// StepClock provides a thread-safe monotonic clock for tests.
//
// Every call to Now advances the clock by a fixed step, so elapsed times
// measured with it are exact and repeatable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	seq  int64
}

// NewStepClock creates a clock starting at base.
//
// The first call to Now() returns base+step.
func NewStepClock(base time.Time, step time.Duration) *StepClock {
	return &StepClock{base: base, step: step}
}

// Now advances the clock one step and returns the new time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.base.Add(time.Duration(c.seq) * c.step)
}

// Ticks returns how many times Now has been called.
func (c *StepClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to base.
//
// Used for test reuse. After Reset(), the next call to Now() returns base+step.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
