package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// KeyedStore Tests
// ============================================================================

func TestKeyedStore_GetOrCreateIdempotent(t *testing.T) {
	store := NewKeyedStore[*int64](0)

	var creates atomic.Int64
	results := make([]*int64, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := store.GetOrCreate("client-a", func() *int64 {
				creates.Add(1)
				return new(int64)
			})
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := creates.Load(); got != 1 {
		t.Errorf("Expected exactly 1 create, got %d", got)
	}
	for i, v := range results {
		if v != results[0] {
			t.Fatalf("Goroutine %d observed a different value", i)
		}
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", store.Len())
	}
}

func TestKeyedStore_CreatedFlag(t *testing.T) {
	store := NewKeyedStore[int](4)

	_, created := store.GetOrCreate("k", func() int { return 1 })
	if !created {
		t.Error("Expected first access to create")
	}

	v, created := store.GetOrCreate("k", func() int { return 2 })
	if created {
		t.Error("Expected second access not to create")
	}
	if v != 1 {
		t.Errorf("Expected stored value 1, got %d", v)
	}
}

func TestKeyedStore_ShardRounding(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultShardCount},
		{1, 1},
		{5, 8},
		{16, 16},
		{17, 32},
	}

	for _, tt := range tests {
		store := NewKeyedStore[int](tt.in)
		if len(store.shards) != tt.want {
			t.Errorf("NewKeyedStore(%d): expected %d shards, got %d", tt.in, tt.want, len(store.shards))
		}
	}
}

func TestKeyedStore_DeleteAndRange(t *testing.T) {
	store := NewKeyedStore[int](0)
	for i, k := range []string{"a", "b", "c", "d"} {
		store.GetOrCreate(k, func() int { return i })
	}

	store.Delete("a")
	store.Delete("missing")
	if _, ok := store.Get("a"); ok {
		t.Error("Expected a to be deleted")
	}

	removed := store.DeleteFunc(func(_ string, v int) bool { return v >= 2 })
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	seen := map[string]int{}
	store.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	if len(seen) != 1 || seen["b"] != 1 {
		t.Errorf("Expected only b=1 left, got %v", seen)
	}
}

func TestKeyedStore_RangeStops(t *testing.T) {
	store := NewKeyedStore[int](0)
	for _, k := range []string{"a", "b", "c"} {
		store.GetOrCreate(k, func() int { return 0 })
	}

	visits := 0
	store.Range(func(string, int) bool {
		visits++
		return false
	})
	if visits != 1 {
		t.Errorf("Expected Range to stop after 1 visit, got %d", visits)
	}
}

// ============================================================================
// Clock Tests
// ============================================================================

func TestManualClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := NewManualClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Expected %v, got %v", start, clock.Now())
	}

	got := clock.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !got.Equal(want) || !clock.Now().Equal(want) {
		t.Errorf("Expected %v after Advance, got %v", want, got)
	}

	clock.Set(start)
	if !clock.Now().Equal(start) {
		t.Errorf("Expected Set to move clock back to %v", start)
	}
}

func TestSystemClock_SecondResolution(t *testing.T) {
	now := SystemClock{}.Now()
	if now.Nanosecond() != 0 {
		t.Errorf("Expected whole seconds, got %d ns", now.Nanosecond())
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{7, 2, 3},
		{-7, 2, -4},
		{-6, 2, -3},
		{0, 60, 0},
		{119, 60, 1},
	}

	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
