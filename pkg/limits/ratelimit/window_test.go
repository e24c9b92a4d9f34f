package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// windowStart is aligned to a minute boundary.
var windowStart = time.Unix(1_700_000_040, 0)

// ============================================================================
// Fixed Window Tests
// ============================================================================

func TestFixedWindow_LimitThenReject(t *testing.T) {
	fw := NewFixedWindow(FixedWindowConfig{Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		d := fw.Decide("client", windowStart, nil)
		if d.Outcome != Admit {
			t.Fatalf("Request %d: expected admit, got %v", i+1, d.Outcome)
		}
		if d.Remaining != int64(4-i) {
			t.Errorf("Request %d: expected remaining %d, got %d", i+1, 4-i, d.Remaining)
		}
	}

	d := fw.Decide("client", windowStart.Add(10*time.Second), nil)
	if d.Outcome != Reject {
		t.Fatalf("Expected 6th request to be rejected, got %v", d.Outcome)
	}
	if !errors.Is(d.Reason, ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded, got %v", d.Reason)
	}
	if d.RetryAfter != 50*time.Second {
		t.Errorf("Expected retry after 50s, got %v", d.RetryAfter)
	}
	if got := fw.Count("client", windowStart); got != 6 {
		t.Errorf("Expected count 6 including the rejected request, got %d", got)
	}
}

func TestFixedWindow_NextWindowResets(t *testing.T) {
	fw := NewFixedWindow(FixedWindowConfig{Limit: 2, Window: time.Minute})

	fw.Decide("client", windowStart, nil)
	fw.Decide("client", windowStart, nil)
	if d := fw.Decide("client", windowStart.Add(59*time.Second), nil); d.Outcome != Reject {
		t.Fatalf("Expected reject within the first window")
	}

	next := windowStart.Add(time.Minute)
	if d := fw.Decide("client", next, nil); d.Outcome != Admit {
		t.Errorf("Expected admit in the next window, got %v", d.Outcome)
	}

	if fw.Keys() != 2 {
		t.Errorf("Expected 2 live counters before eviction, got %d", fw.Keys())
	}
	if removed := fw.Evict(next); removed != 1 {
		t.Errorf("Expected 1 stale counter evicted, got %d", removed)
	}
	if got := fw.Count("client", next); got != 1 {
		t.Errorf("Expected current window count to survive eviction, got %d", got)
	}
}

func TestFixedWindow_KeysIndependent(t *testing.T) {
	fw := NewFixedWindow(FixedWindowConfig{Limit: 1, Window: time.Minute})

	if d := fw.Decide("a", windowStart, nil); d.Outcome != Admit {
		t.Error("Expected a to be admitted")
	}
	if d := fw.Decide("b", windowStart, nil); d.Outcome != Admit {
		t.Error("Expected b to be admitted independently of a")
	}
	if d := fw.Decide("a", windowStart, nil); d.Outcome != Reject {
		t.Error("Expected second request for a to be rejected")
	}
}

func TestFixedWindow_SameInstantCountsTwice(t *testing.T) {
	fw := NewFixedWindow(FixedWindowConfig{Limit: 1, Window: time.Minute})

	first := fw.Decide("client", windowStart, nil)
	second := fw.Decide("client", windowStart, nil)
	if first.Outcome != Admit || second.Outcome != Reject {
		t.Errorf("Expected admit then reject, got %v then %v", first.Outcome, second.Outcome)
	}
}

func TestFixedWindow_Concurrent(t *testing.T) {
	fw := NewFixedWindow(FixedWindowConfig{Limit: 50, Window: time.Minute})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fw.Decide("client", windowStart, nil).Admitted() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 50 {
		t.Errorf("Expected exactly 50 admitted, got %d", got)
	}
}

// ============================================================================
// Sliding Log Tests
// ============================================================================

func TestSlidingLog_TrailingWindow(t *testing.T) {
	sl := NewSlidingLog(SlidingLogConfig{Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		if d := sl.Decide("client", windowStart, nil); d.Outcome != Admit {
			t.Fatalf("Request %d: expected admit", i+1)
		}
	}

	d := sl.Decide("client", windowStart, nil)
	if d.Outcome != Reject {
		t.Fatal("Expected 6th request at t=0 to be rejected")
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("Expected retry after 60s, got %v", d.RetryAfter)
	}
	if sl.Len("client") != 5 {
		t.Errorf("Expected rejected request not to be logged, got len %d", sl.Len("client"))
	}

	// Entries exactly one window old are still inside the window.
	if d := sl.Decide("client", windowStart.Add(60*time.Second), nil); d.Outcome != Reject {
		t.Error("Expected reject at t=60")
	}

	if d := sl.Decide("client", windowStart.Add(61*time.Second), nil); d.Outcome != Admit {
		t.Errorf("Expected admit at t=61, got %v", d.Outcome)
	}
	if sl.Len("client") != 1 {
		t.Errorf("Expected old entries pruned, got len %d", sl.Len("client"))
	}
}

func TestSlidingLog_RetryHintFloor(t *testing.T) {
	sl := NewSlidingLog(SlidingLogConfig{Limit: 1, Window: time.Second})

	sl.Decide("client", windowStart, nil)
	d := sl.Decide("client", windowStart.Add(time.Second), nil)
	if d.Outcome != Reject {
		t.Fatal("Expected reject")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("Expected retry hint floored at 1s, got %v", d.RetryAfter)
	}
}

func TestSlidingLog_Evict(t *testing.T) {
	sl := NewSlidingLog(SlidingLogConfig{Limit: 5, Window: time.Minute, IdleAfter: 30 * time.Second})

	sl.Decide("old", windowStart, nil)
	sl.Decide("recent", windowStart.Add(50*time.Second), nil)

	// old is idle but its entry is still inside the window.
	if removed := sl.Evict(windowStart.Add(55 * time.Second)); removed != 0 {
		t.Errorf("Expected nothing evicted while logs are live, got %d", removed)
	}

	if removed := sl.Evict(windowStart.Add(90 * time.Second)); removed != 1 {
		t.Errorf("Expected old to be evicted, got %d", removed)
	}
	if sl.Keys() != 1 {
		t.Errorf("Expected 1 key left, got %d", sl.Keys())
	}
}

func TestSlidingLog_Concurrent(t *testing.T) {
	sl := NewSlidingLog(SlidingLogConfig{Limit: 20, Window: time.Minute})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sl.Decide("client", windowStart, nil).Admitted() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 20 {
		t.Errorf("Expected exactly 20 admitted, got %d", got)
	}
}

// ============================================================================
// Sliding Window Tests
// ============================================================================

func TestSlidingWindow_WeightedPrevious(t *testing.T) {
	sw := NewSlidingWindow(SlidingWindowConfig{Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		if d := sw.Decide("client", windowStart, nil); d.Outcome != Admit {
			t.Fatalf("Request %d: expected admit", i+1)
		}
	}

	// Start of the next window: previous weighs in fully.
	d := sw.Decide("client", windowStart.Add(time.Minute), nil)
	if d.Outcome != Reject {
		t.Fatalf("Expected reject with weight 1, got %v", d.Outcome)
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("Expected retry after 60s, got %v", d.RetryAfter)
	}

	// End of the next window: previous weighs almost nothing.
	d = sw.Decide("client", windowStart.Add(119*time.Second), nil)
	if d.Outcome != Admit {
		t.Errorf("Expected admit with weight near 0, got %v", d.Outcome)
	}

	prev, cur := sw.Counts("client")
	if prev != 5 || cur != 2 {
		t.Errorf("Expected counts (5, 2), got (%d, %d)", prev, cur)
	}
}

func TestSlidingWindow_GapClearsPrevious(t *testing.T) {
	sw := NewSlidingWindow(SlidingWindowConfig{Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		sw.Decide("client", windowStart, nil)
	}

	d := sw.Decide("client", windowStart.Add(2*time.Minute), nil)
	if d.Outcome != Admit {
		t.Errorf("Expected admit after an empty window, got %v", d.Outcome)
	}

	prev, cur := sw.Counts("client")
	if prev != 0 || cur != 1 {
		t.Errorf("Expected counts (0, 1), got (%d, %d)", prev, cur)
	}
}

func TestSlidingWindow_RejectedStillCounts(t *testing.T) {
	sw := NewSlidingWindow(SlidingWindowConfig{Limit: 1, Window: time.Minute})

	sw.Decide("client", windowStart, nil)
	sw.Decide("client", windowStart, nil)
	sw.Decide("client", windowStart, nil)

	if _, cur := sw.Counts("client"); cur != 3 {
		t.Errorf("Expected rejected requests to count, got current %d", cur)
	}
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	sw := NewSlidingWindow(SlidingWindowConfig{Limit: 50, Window: time.Minute})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := sw.Decide("client", windowStart.Add(10*time.Second), nil)
			if d.Admitted() {
				admitted.Add(1)
			}
			if d.Remaining < 0 {
				t.Errorf("Expected non-negative remaining, got %d", d.Remaining)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 50 {
		t.Errorf("Expected exactly 50 admitted, got %d", got)
	}
	prev, cur := sw.Counts("client")
	if prev != 0 || cur != 200 {
		t.Errorf("Expected counts (0, 200), got (%d, %d)", prev, cur)
	}
}

func TestSlidingWindow_Evict(t *testing.T) {
	sw := NewSlidingWindow(SlidingWindowConfig{Limit: 5, Window: time.Minute, IdleAfter: time.Minute})

	sw.Decide("client", windowStart, nil)

	// Idle floor is two windows.
	if removed := sw.Evict(windowStart.Add(90 * time.Second)); removed != 0 {
		t.Errorf("Expected no eviction before two windows, got %d", removed)
	}
	if removed := sw.Evict(windowStart.Add(3 * time.Minute)); removed != 1 {
		t.Errorf("Expected eviction after two idle windows, got %d", removed)
	}

	// A key evicted and seen again starts fresh.
	if d := sw.Decide("client", windowStart.Add(3*time.Minute), nil); d.Outcome != Admit {
		t.Error("Expected admit on a fresh key")
	}
}
