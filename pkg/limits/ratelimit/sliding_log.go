package ratelimit

import (
	"time"
)

// SlidingLog implements the sliding window log algorithm.
//
// Every admitted request's timestamp is kept in an insertion-ordered log per
// key. The log always reflects the exact number of requests in the trailing
// window, at the cost of memory proportional to the limit.
//
// # Algorithm
//
//  1. Drop timestamps older than now - window
//  2. If fewer than limit remain, append now and admit
//  3. Otherwise reject without appending
//
// # Thread Safety
//
// Prune, check and append run under a per-key mutex.
type SlidingLog struct {
	limit     int64
	window    time.Duration
	idleAfter time.Duration
	logs      *KeyedStore[*timestampLog]
}

type timestampLog struct {
	stateBase
	entries []time.Time
}

// SlidingLogConfig configures a SlidingLog.
type SlidingLogConfig struct {
	// Limit is the maximum number of requests in the trailing window.
	Limit int64

	// Window is the trailing window size.
	Window time.Duration

	// IdleAfter lets Evict drop keys not seen for this long. Zero keeps keys forever.
	IdleAfter time.Duration
}

// NewSlidingLog creates a sliding log limiter.
func NewSlidingLog(cfg SlidingLogConfig) *SlidingLog {
	return &SlidingLog{
		limit:     cfg.Limit,
		window:    time.Duration(windowSeconds(cfg.Window)) * time.Second,
		idleAfter: cfg.IdleAfter,
		logs:      NewKeyedStore[*timestampLog](0),
	}
}

// Name returns "sliding_log".
func (sl *SlidingLog) Name() string { return StrategySlidingLog }

// Decide admits the request if key has fewer than limit requests in the
// trailing window.
func (sl *SlidingLog) Decide(key string, now time.Time, _ *Task) Decision {
	l := lockKey(sl.logs, key, func() *timestampLog {
		return &timestampLog{entries: make([]time.Time, 0, min(max(sl.limit, 0), 64))}
	})
	defer l.mu.Unlock()

	l.lastSeen = now
	sl.pruneLocked(l, now)

	if int64(len(l.entries)) < sl.limit {
		l.entries = append(l.entries, now)
		return admitDecision(sl.limit, sl.limit-int64(len(l.entries)))
	}

	retryAfter := time.Second
	if len(l.entries) > 0 {
		if d := l.entries[0].Add(sl.window).Sub(now); d > retryAfter {
			retryAfter = d
		}
	}
	return rejectDecision(ErrLimitExceeded, retryAfter, sl.limit)
}

// pruneLocked removes timestamps strictly older than now - window.
// Caller must hold l.mu.
func (sl *SlidingLog) pruneLocked(l *timestampLog, now time.Time) {
	cutoff := now.Add(-sl.window)

	i := 0
	for i < len(l.entries) && l.entries[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}

	n := copy(l.entries, l.entries[i:])
	clear(l.entries[n:])
	l.entries = l.entries[:n]
}

// Len returns the number of logged timestamps for key as of the last decision.
func (sl *SlidingLog) Len(key string) int {
	l, ok := sl.logs.Get(key)
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Evict drops keys idle for longer than IdleAfter whose logs have fully aged out.
func (sl *SlidingLog) Evict(now time.Time) int {
	if sl.idleAfter <= 0 {
		return 0
	}
	return evictIdle(sl.logs, now.Add(-sl.idleAfter), func(l *timestampLog) bool {
		sl.pruneLocked(l, now)
		return len(l.entries) > 0
	})
}

// Keys returns the number of tracked keys.
func (sl *SlidingLog) Keys() int {
	return sl.logs.Len()
}

