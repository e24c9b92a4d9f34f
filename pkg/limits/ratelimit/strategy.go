package ratelimit

import (
	"sync"
	"time"
)

// Strategy decides whether a request for a client key may proceed.
//
// Implementations must be safe for concurrent calls on the same key and on
// different keys. Calling Decide twice with the same now counts as two
// separate requests.
type Strategy interface {
	// Name returns the strategy type, e.g. "token_bucket".
	Name() string

	// Decide admits, rejects or defers one request for key at time now.
	// task is the continuation to run if the request is deferred; strategies
	// that never defer ignore it and accept nil.
	Decide(key string, now time.Time, task *Task) Decision
}

// Evictor is implemented by strategies whose per-key state can be reclaimed.
type Evictor interface {
	// Evict drops state that no longer affects decisions at now and returns
	// the number of entries removed.
	Evict(now time.Time) int
}

// Sizer reports how many per-key state entries a strategy currently holds.
type Sizer interface {
	Keys() int
}

// stateBase is embedded by every mutex-guarded per-key state.
type stateBase struct {
	mu       sync.Mutex
	lastSeen time.Time
	evicted  bool
}

func (b *stateBase) base() *stateBase { return b }

type lockedState interface {
	base() *stateBase
}

// lockKey returns the state for key with its mutex held. If the state it
// finds was evicted between lookup and lock, it retries so that a decision
// never lands on an orphaned entry.
func lockKey[S lockedState](store *KeyedStore[S], key string, create func() S) S {
	for {
		st, _ := store.GetOrCreate(key, create)
		b := st.base()
		b.mu.Lock()
		if !b.evicted {
			return st
		}
		b.mu.Unlock()
	}
}

// evictIdle removes states last seen before cutoff. keep, when non-nil, can
// veto removal of a state that is idle but still holds work.
func evictIdle[S lockedState](store *KeyedStore[S], cutoff time.Time, keep func(S) bool) int {
	return store.DeleteFunc(func(_ string, st S) bool {
		b := st.base()
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.lastSeen.Before(cutoff) {
			return false
		}
		if keep != nil && keep(st) {
			return false
		}
		b.evicted = true
		return true
	})
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
