package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// GCRA is a per-key limiter backed by golang.org/x/time/rate.
//
// rate.Limiter is a virtual-scheduling token bucket, equivalent to the
// generic cell rate algorithm. Unlike TokenBucket it tracks time with
// nanosecond precision and reports the exact delay until the next
// conforming request, which becomes the retry hint.
//
// Decisions use the caller supplied time, never the wall clock.
type GCRA struct {
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	limiters  *KeyedStore[*gcraState]
}

type gcraState struct {
	stateBase
	lim *rate.Limiter
}

// GCRAConfig configures a GCRA limiter.
type GCRAConfig struct {
	// RatePerSecond is the sustained rate.
	RatePerSecond float64

	// Burst is the number of requests that may arrive at once.
	Burst int

	// IdleAfter lets Evict drop keys not seen for this long. Zero keeps keys forever.
	IdleAfter time.Duration
}

// NewGCRA creates a GCRA limiter.
func NewGCRA(cfg GCRAConfig) *GCRA {
	return &GCRA{
		limit:     rate.Limit(cfg.RatePerSecond),
		burst:     cfg.Burst,
		idleAfter: cfg.IdleAfter,
		limiters:  NewKeyedStore[*gcraState](0),
	}
}

// Name returns "gcra".
func (g *GCRA) Name() string { return StrategyGCRA }

// Decide reserves one request for key at now. If the reservation would have
// to wait it is cancelled and the request rejected with the wait as hint.
func (g *GCRA) Decide(key string, now time.Time, _ *Task) Decision {
	st := lockKey(g.limiters, key, func() *gcraState {
		return &gcraState{lim: rate.NewLimiter(g.limit, g.burst)}
	})
	defer st.mu.Unlock()

	st.lastSeen = now
	limit := int64(g.burst)

	r := st.lim.ReserveN(now, 1)
	if !r.OK() {
		return rejectDecision(ErrLimitExceeded, 0, limit)
	}

	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return rejectDecision(ErrLimitExceeded, delay, limit)
	}

	return admitDecision(limit, int64(st.lim.TokensAt(now)))
}

// Evict drops limiters idle for longer than IdleAfter that have refilled to burst.
func (g *GCRA) Evict(now time.Time) int {
	if g.idleAfter <= 0 {
		return 0
	}
	return evictIdle(g.limiters, now.Add(-g.idleAfter), func(st *gcraState) bool {
		return st.lim.TokensAt(now) < float64(g.burst)
	})
}

// Keys returns the number of tracked keys.
func (g *GCRA) Keys() int {
	return g.limiters.Len()
}
