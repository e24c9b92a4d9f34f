package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Token Bucket Tests
// ============================================================================

func TestTokenBucket_Burst(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 50, RefillRate: 1})
	now := windowStart

	for i := 0; i < 50; i++ {
		if d := tb.Decide("client", now, nil); d.Outcome != Admit {
			t.Fatalf("Request %d: expected admit from a full bucket", i+1)
		}
	}

	d := tb.Decide("client", now, nil)
	if d.Outcome != Reject {
		t.Fatal("Expected 51st request to be rejected")
	}
	if !errors.Is(d.Reason, ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded, got %v", d.Reason)
	}
	if d.RetryAfter != time.Second {
		t.Errorf("Expected retry after 1s, got %v", d.RetryAfter)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 50, RefillRate: 1})
	now := windowStart

	for i := 0; i < 50; i++ {
		tb.Decide("client", now, nil)
	}

	now = now.Add(time.Second)
	if d := tb.Decide("client", now, nil); d.Outcome != Admit {
		t.Errorf("Expected one token after 1s, got %v", d.Outcome)
	}
	if d := tb.Decide("client", now, nil); d.Outcome != Reject {
		t.Errorf("Expected only one token after 1s, got %v", d.Outcome)
	}
}

func TestTokenBucket_CapacityLimit(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 50, RefillRate: 1})

	tb.Decide("client", windowStart, nil)

	got := tb.Remaining("client", windowStart.Add(time.Hour))
	if got != 50 {
		t.Errorf("Expected refill capped at 50, got %v", got)
	}
}

func TestTokenBucket_InitialTokens(t *testing.T) {
	zero := 0.0
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 10, RefillRate: 2, InitialTokens: &zero})

	d := tb.Decide("client", windowStart, nil)
	if d.Outcome != Reject {
		t.Fatalf("Expected empty bucket to reject, got %v", d.Outcome)
	}
	if d.RetryAfter != 500*time.Millisecond {
		t.Errorf("Expected retry after 500ms, got %v", d.RetryAfter)
	}

	if d := tb.Decide("client", windowStart.Add(500*time.Millisecond), nil); d.Outcome != Admit {
		t.Errorf("Expected admit after half a second at 2/s, got %v", d.Outcome)
	}
}

func TestTokenBucket_FractionalTokenAdmitsAndFloors(t *testing.T) {
	zero := 0.0
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 10, RefillRate: 1, InitialTokens: &zero})

	tb.Decide("client", windowStart, nil)
	d := tb.Decide("client", windowStart.Add(500*time.Millisecond), nil)
	if d.Outcome != Admit {
		t.Fatalf("Expected a fractional token to admit, got %v", d.Outcome)
	}
	if got := tb.Remaining("client", windowStart.Add(500*time.Millisecond)); got != 0 {
		t.Errorf("Expected tokens floored at 0, got %v", got)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 3, RefillRate: 1})

	for i := 0; i < 3; i++ {
		tb.Decide("client", windowStart, nil)
	}
	tb.Reset("client", windowStart)

	if got := tb.Remaining("client", windowStart); got != 3 {
		t.Errorf("Expected full bucket after reset, got %v", got)
	}
}

func TestTokenBucket_Concurrent(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 100, RefillRate: 1})

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tb.Decide("client", windowStart, nil).Admitted() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 100 {
		t.Errorf("Expected exactly 100 admitted, got %d", admitted)
	}
	if got := tb.Remaining("client", windowStart); got < 0 {
		t.Errorf("Expected non-negative tokens, got %v", got)
	}
}

func TestTokenBucket_Evict(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{MaxTokens: 10, RefillRate: 1, IdleAfter: time.Minute})

	for i := 0; i < 10; i++ {
		tb.Decide("drained", windowStart, nil)
	}
	tb.Decide("idle", windowStart, nil)

	// drained has refilled by then, so both are indistinguishable from new keys.
	if removed := tb.Evict(windowStart.Add(2 * time.Minute)); removed != 2 {
		t.Errorf("Expected 2 evicted, got %d", removed)
	}

	tb2 := NewTokenBucket(TokenBucketConfig{MaxTokens: 1000, RefillRate: 1, IdleAfter: time.Minute})
	for i := 0; i < 1000; i++ {
		tb2.Decide("slow", windowStart, nil)
	}
	if removed := tb2.Evict(windowStart.Add(2 * time.Minute)); removed != 0 {
		t.Errorf("Expected a bucket still refilling to be kept, got %d evicted", removed)
	}
}

// ============================================================================
// GCRA Tests
// ============================================================================

func TestGCRA_BurstThenReject(t *testing.T) {
	g := NewGCRA(GCRAConfig{RatePerSecond: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		if d := g.Decide("client", windowStart, nil); d.Outcome != Admit {
			t.Fatalf("Request %d: expected admit within burst", i+1)
		}
	}

	d := g.Decide("client", windowStart, nil)
	if d.Outcome != Reject {
		t.Fatal("Expected reject after burst")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Errorf("Expected retry hint in (0, 1s], got %v", d.RetryAfter)
	}

	if d := g.Decide("client", windowStart.Add(time.Second), nil); d.Outcome != Admit {
		t.Errorf("Expected admit after 1s, got %v", d.Outcome)
	}
}

func TestGCRA_RejectDoesNotConsume(t *testing.T) {
	g := NewGCRA(GCRAConfig{RatePerSecond: 1, Burst: 1})

	g.Decide("client", windowStart, nil)
	for i := 0; i < 10; i++ {
		g.Decide("client", windowStart.Add(100*time.Millisecond), nil)
	}

	if d := g.Decide("client", windowStart.Add(time.Second), nil); d.Outcome != Admit {
		t.Errorf("Expected rejected requests not to push back the next slot, got %v", d.Outcome)
	}
}

func TestGCRA_Evict(t *testing.T) {
	g := NewGCRA(GCRAConfig{RatePerSecond: 1, Burst: 5, IdleAfter: time.Minute})

	g.Decide("client", windowStart, nil)
	if removed := g.Evict(windowStart.Add(2 * time.Minute)); removed != 1 {
		t.Errorf("Expected refilled limiter to be evicted, got %d", removed)
	}
	if g.Keys() != 0 {
		t.Errorf("Expected no keys left, got %d", g.Keys())
	}
}
