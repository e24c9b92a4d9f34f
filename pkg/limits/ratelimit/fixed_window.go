package ratelimit

import (
	"strconv"
	"sync/atomic"
	"time"
)

// FixedWindow implements the fixed window counter algorithm.
//
// Time is cut into consecutive windows of equal size. Each (key, window)
// pair owns an independent counter; a request is admitted while the counter
// after its own increment stays within the limit.
//
// Up to 2x limit requests can pass around a window boundary. That is a
// property of the algorithm, not a defect.
//
// # Algorithm
//
//  1. epoch = floor(now / window)
//  2. Get or create the counter for (key, epoch)
//  3. Atomically increment it
//  4. Admit if the new count <= limit, otherwise reject
//
// # Memory
//
// Counters for past epochs stay in the store until Evict is called. The
// eviction scheduler calls it periodically.
//
// # Thread Safety
//
// The increment is a single atomic add. No lock is held across keys or epochs.
type FixedWindow struct {
	limit    int64
	window   time.Duration
	counters *KeyedStore[*windowCounter]
}

type windowCounter struct {
	epoch int64
	count atomic.Int64
}

// FixedWindowConfig configures a FixedWindow.
type FixedWindowConfig struct {
	// Limit is the maximum number of requests per window.
	Limit int64

	// Window is the window size. Sub-second values are rounded up to one second.
	Window time.Duration
}

// NewFixedWindow creates a fixed window counter.
//
// Example:
//
//	// 5 requests per minute
//	fw := NewFixedWindow(FixedWindowConfig{Limit: 5, Window: time.Minute})
func NewFixedWindow(cfg FixedWindowConfig) *FixedWindow {
	return &FixedWindow{
		limit:    cfg.Limit,
		window:   time.Duration(windowSeconds(cfg.Window)) * time.Second,
		counters: NewKeyedStore[*windowCounter](0),
	}
}

// Name returns "fixed_window".
func (fw *FixedWindow) Name() string { return StrategyFixedWindow }

// Decide counts one request for key in the window containing now.
func (fw *FixedWindow) Decide(key string, now time.Time, _ *Task) Decision {
	epoch := fw.epoch(now)

	counter, _ := fw.counters.GetOrCreate(counterKey(key, epoch), func() *windowCounter {
		return &windowCounter{epoch: epoch}
	})

	count := counter.count.Add(1)
	if count <= fw.limit {
		return admitDecision(fw.limit, fw.limit-count)
	}

	return rejectDecision(ErrLimitExceeded, fw.resetAt(epoch).Sub(now), fw.limit)
}

// Count returns the counter for key in the window containing now.
func (fw *FixedWindow) Count(key string, now time.Time) int64 {
	counter, ok := fw.counters.Get(counterKey(key, fw.epoch(now)))
	if !ok {
		return 0
	}
	return counter.count.Load()
}

// Evict removes counters of every epoch before the one containing now.
func (fw *FixedWindow) Evict(now time.Time) int {
	current := fw.epoch(now)
	return fw.counters.DeleteFunc(func(_ string, c *windowCounter) bool {
		return c.epoch < current
	})
}

// Keys returns the number of live (key, epoch) counters.
func (fw *FixedWindow) Keys() int {
	return fw.counters.Len()
}

func (fw *FixedWindow) epoch(now time.Time) int64 {
	return floorDiv(epochSeconds(now), windowSeconds(fw.window))
}

func (fw *FixedWindow) resetAt(epoch int64) time.Time {
	return time.Unix((epoch+1)*windowSeconds(fw.window), 0)
}

// counterKey joins a client key and an epoch. NUL cannot appear in header
// or address derived keys, so distinct pairs never collide.
func counterKey(key string, epoch int64) string {
	return key + "\x00" + strconv.FormatInt(epoch, 10)
}
