package ratelimit

import (
	"sync/atomic"
)

// ConcurrentLimiter caps the number of requests in flight at once.
//
// It is not a rate limiter: it bounds simultaneous work rather than work per
// unit of time. The gateway uses it as a global guard in front of every
// policy.
//
// # Thread Safety
//
// Lock-free; Acquire and Release are single atomic adds.
type ConcurrentLimiter struct {
	limit   int64
	current atomic.Int64
	peak    atomic.Int64
}

// NewConcurrentLimiter creates a limiter admitting at most limit holders.
//
// Example:
//
//	limiter := NewConcurrentLimiter(50)
//	if release, ok := limiter.Acquire(); ok {
//	    defer release()
//	    // Process request
//	}
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{limit: int64(limit)}
}

// Acquire takes a slot if one is free. On success the returned release
// function must be called exactly once; extra calls are ignored.
func (cl *ConcurrentLimiter) Acquire() (release func(), ok bool) {
	n := cl.current.Add(1)
	if n > cl.limit {
		cl.current.Add(-1)
		return func() {}, false
	}

	for {
		peak := cl.peak.Load()
		if n <= peak || cl.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			cl.current.Add(-1)
		}
	}, true
}

// Current returns the number of slots held.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Peak returns the highest number of slots ever held at once.
func (cl *ConcurrentLimiter) Peak() int64 {
	return cl.peak.Load()
}

// Limit returns the configured cap.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of free slots.
func (cl *ConcurrentLimiter) Remaining() int64 {
	remaining := cl.limit - cl.current.Load()
	if remaining < 0 {
		return 0
	}
	return remaining
}
