package ratelimit

import (
	"math"
	"time"
)

// SlidingWindow implements the weighted two-window sliding counter.
//
// Each key keeps the count of the current aligned window and of the window
// before it. The previous count is weighted by the fraction of the previous
// window still inside the trailing window ending at now. This smooths the
// boundary spike of FixedWindow with O(1) memory per key.
//
// # Algorithm
//
//  1. windowStart = floor(now / window) * window
//  2. If the stored window is stale, roll: previous = current, current = 0
//  3. Increment current
//  4. weight = clamp((window - (now - windowStart)) / window, 0, 1)
//  5. Admit if current + weight*previous <= limit
//
// Rejected requests still count toward current.
//
// # Thread Safety
//
// Roll and increment form one critical section under a per-key mutex.
type SlidingWindow struct {
	limit     int64
	window    time.Duration
	idleAfter time.Duration
	windows   *KeyedStore[*dualWindow]
}

type dualWindow struct {
	stateBase
	windowStart int64
	previous    int64
	current     int64
}

// SlidingWindowConfig configures a SlidingWindow.
type SlidingWindowConfig struct {
	// Limit is the maximum effective count per window.
	Limit int64

	// Window is the window size. Sub-second values are rounded up to one second.
	Window time.Duration

	// IdleAfter lets Evict drop keys not seen for this long. Zero keeps keys forever.
	IdleAfter time.Duration
}

// NewSlidingWindow creates a sliding window counter.
//
// Example:
//
//	// 5 requests per rolling minute
//	sw := NewSlidingWindow(SlidingWindowConfig{Limit: 5, Window: time.Minute})
func NewSlidingWindow(cfg SlidingWindowConfig) *SlidingWindow {
	return &SlidingWindow{
		limit:     cfg.Limit,
		window:    time.Duration(windowSeconds(cfg.Window)) * time.Second,
		idleAfter: cfg.IdleAfter,
		windows:   NewKeyedStore[*dualWindow](0),
	}
}

// Name returns "sliding_window".
func (sw *SlidingWindow) Name() string { return StrategySlidingWindow }

// Decide counts one request for key and weighs it against the previous window.
func (sw *SlidingWindow) Decide(key string, now time.Time, _ *Task) Decision {
	size := windowSeconds(sw.window)
	nowSec := epochSeconds(now)
	start := floorDiv(nowSec, size) * size

	w := lockKey(sw.windows, key, func() *dualWindow {
		return &dualWindow{windowStart: start}
	})
	defer w.mu.Unlock()

	w.lastSeen = now
	sw.rollLocked(w, start, size)
	w.current++

	weight := clamp01(float64(size-(nowSec-w.windowStart)) / float64(size))
	effective := float64(w.current) + weight*float64(w.previous)

	if effective <= float64(sw.limit) {
		return admitDecision(sw.limit, sw.limit-int64(math.Ceil(effective)))
	}

	resetAt := time.Unix(w.windowStart+size, 0)
	return rejectDecision(ErrLimitExceeded, resetAt.Sub(now), sw.limit)
}

// rollLocked advances w to the window starting at start.
// Caller must hold w.mu.
func (sw *SlidingWindow) rollLocked(w *dualWindow, start, size int64) {
	if w.windowStart >= start {
		return
	}

	if start-w.windowStart >= 2*size {
		// The previous aligned window saw no traffic at all.
		w.previous = 0
	} else {
		w.previous = w.current
	}
	w.current = 0
	w.windowStart = start
}

// Counts returns the previous and current window counts for key as of the
// last decision.
func (sw *SlidingWindow) Counts(key string) (previous, current int64) {
	w, ok := sw.windows.Get(key)
	if !ok {
		return 0, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.previous, w.current
}

// Evict drops keys idle for longer than IdleAfter and older than two windows.
func (sw *SlidingWindow) Evict(now time.Time) int {
	idle := sw.idleAfter
	if idle <= 0 {
		return 0
	}
	if idle < 2*sw.window {
		idle = 2 * sw.window
	}
	return evictIdle(sw.windows, now.Add(-idle), nil)
}

// Keys returns the number of tracked keys.
func (sw *SlidingWindow) Keys() int {
	return sw.windows.Len()
}
