package ratelimit

import (
	"math"
	"time"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The token bucket allows bursts up to maxTokens while maintaining an
// average rate over time. Tokens are added at a constant refill rate and
// each admitted request consumes one.
//
// # Algorithm
//
//  1. elapsed = now - lastRefill
//  2. If elapsed > 0: tokens = min(tokens + elapsed*rate, maxTokens), lastRefill = now
//  3. If tokens > 0: consume one token and admit
//  4. Otherwise reject
//
// Tokens never drop below zero: a request admitted on a fractional token
// empties the bucket.
//
// # Thread Safety
//
// Refill-then-consume runs under a per-key mutex.
type TokenBucket struct {
	maxTokens     float64
	initialTokens float64
	refillRate    float64 // Tokens added per second
	idleAfter     time.Duration
	buckets       *KeyedStore[*bucketState]
}

type bucketState struct {
	stateBase
	tokens     float64
	lastRefill time.Time
}

// TokenBucketConfig configures a TokenBucket.
type TokenBucketConfig struct {
	// MaxTokens is the bucket capacity (burst size).
	MaxTokens float64

	// RefillRate is the number of tokens added per second.
	RefillRate float64

	// InitialTokens is the token count of a newly seen key. Nil starts full.
	InitialTokens *float64

	// IdleAfter lets Evict drop keys not seen for this long. Zero keeps keys forever.
	IdleAfter time.Duration
}

// NewTokenBucket creates a token bucket limiter.
//
// Example:
//
//	// 1 request/sec average, burst up to 50
//	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 50, RefillRate: 1})
func NewTokenBucket(cfg TokenBucketConfig) *TokenBucket {
	initial := cfg.MaxTokens
	if cfg.InitialTokens != nil {
		initial = math.Min(math.Max(*cfg.InitialTokens, 0), cfg.MaxTokens)
	}

	return &TokenBucket{
		maxTokens:     cfg.MaxTokens,
		initialTokens: initial,
		refillRate:    cfg.RefillRate,
		idleAfter:     cfg.IdleAfter,
		buckets:       NewKeyedStore[*bucketState](0),
	}
}

// Name returns "token_bucket".
func (tb *TokenBucket) Name() string { return StrategyTokenBucket }

// Decide refills key's bucket up to now and takes one token if any is left.
func (tb *TokenBucket) Decide(key string, now time.Time, _ *Task) Decision {
	b := tb.lock(key, now)
	defer b.mu.Unlock()

	b.lastSeen = now
	tb.refillLocked(b, now)

	limit := int64(tb.maxTokens)
	if b.tokens > 0 {
		b.tokens = math.Max(b.tokens-1, 0)
		return admitDecision(limit, int64(b.tokens))
	}

	return rejectDecision(ErrLimitExceeded, tb.timeUntilTokenLocked(b), limit)
}

// Remaining returns the tokens key would have at now, after refill.
func (tb *TokenBucket) Remaining(key string, now time.Time) float64 {
	b := tb.lock(key, now)
	defer b.mu.Unlock()

	tb.refillLocked(b, now)
	return b.tokens
}

// Capacity returns the maximum bucket capacity.
func (tb *TokenBucket) Capacity() float64 {
	return tb.maxTokens
}

// Reset refills key's bucket to capacity.
// This is useful for testing or manual limit resets.
func (tb *TokenBucket) Reset(key string, now time.Time) {
	b := tb.lock(key, now)
	defer b.mu.Unlock()

	b.tokens = tb.maxTokens
	b.lastRefill = now
}

// Evict drops buckets idle for longer than IdleAfter. A bucket idle that long
// would have refilled anyway unless the refill rate is tiny, so only full
// buckets are removed.
func (tb *TokenBucket) Evict(now time.Time) int {
	if tb.idleAfter <= 0 {
		return 0
	}
	return evictIdle(tb.buckets, now.Add(-tb.idleAfter), func(b *bucketState) bool {
		tb.refillLocked(b, now)
		return b.tokens < tb.initialTokens
	})
}

// Keys returns the number of tracked keys.
func (tb *TokenBucket) Keys() int {
	return tb.buckets.Len()
}

func (tb *TokenBucket) lock(key string, now time.Time) *bucketState {
	return lockKey(tb.buckets, key, func() *bucketState {
		return &bucketState{tokens: tb.initialTokens, lastRefill: now}
	})
}

// refillLocked adds tokens based on elapsed time since last refill.
// Caller must hold lock.
func (tb *TokenBucket) refillLocked(b *bucketState, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	b.tokens = math.Min(b.tokens+elapsed.Seconds()*tb.refillRate, tb.maxTokens)
	b.lastRefill = now
}

// timeUntilTokenLocked returns how long until a full token is available.
// Caller must hold lock.
func (tb *TokenBucket) timeUntilTokenLocked(b *bucketState) time.Duration {
	if tb.refillRate <= 0 {
		return 0
	}
	needed := 1 - b.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / tb.refillRate * float64(time.Second))
}
