package ratelimit

import (
	"sync"
	"time"
)

// Clock is the time source used by every strategy.
//
// Strategies never call time.Now directly so that tests can drive virtual
// time deterministically with a ManualClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock reads the wall clock truncated to whole seconds.
type SystemClock struct{}

// Now returns time.Now() truncated to second resolution.
func (SystemClock) Now() time.Time {
	return time.Now().Truncate(time.Second)
}

// MonotonicClock reads the wall clock at full resolution, including the
// monotonic reading. Leaky bucket queues use it for wait deadlines, which
// may be shorter than a second.
type MonotonicClock struct{}

// Now returns time.Now().
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a Clock whose time only moves when told to.
// It is safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current virtual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// epochSeconds converts t to whole seconds since the Unix epoch.
func epochSeconds(t time.Time) int64 {
	return t.Unix()
}

// windowSeconds converts a window duration to whole seconds (minimum 1).
func windowSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
