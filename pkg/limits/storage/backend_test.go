package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.UnixMilli(1_700_000_000_000)

// sampleEvents spreads two keys of "api" over time; b is seen last.
func sampleEvents() []Event {
	return []Event{
		{Policy: "api", Key: "a", Outcome: OutcomeAdmit, At: base},
		{Policy: "api", Key: "a", Outcome: OutcomeAdmit, At: base.Add(time.Second)},
		{Policy: "api", Key: "a", Outcome: OutcomeReject, At: base.Add(2 * time.Second)},
		{Policy: "api", Key: "b", Outcome: OutcomeDeferred, At: base.Add(10 * time.Second)},
		{Policy: "api", Key: "b", Outcome: OutcomeDrained, At: base.Add(11 * time.Second)},
		{Policy: "other", Key: "c", Outcome: OutcomeAdmit, At: base},
	}
}

// runBackendSuite exercises the Backend contract against any implementation.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("Stats", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Record(ctx, sampleEvents()); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		stats, err := b.Stats(ctx, "api")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		want := Counts{OutcomeAdmit: 2, OutcomeReject: 1, OutcomeDeferred: 1, OutcomeDrained: 1}
		for outcome, n := range want {
			if stats.Counts[outcome] != n {
				t.Errorf("Expected %s=%d, got %d", outcome, n, stats.Counts[outcome])
			}
		}
		if stats.Counts.Total() != 4 {
			t.Errorf("Expected 4 decisions, got %d", stats.Counts.Total())
		}
		if stats.Keys != 2 {
			t.Errorf("Expected 2 keys, got %d", stats.Keys)
		}
		if want := base.Add(11 * time.Second); !stats.LastSeen.Equal(want) {
			t.Errorf("Expected last seen %v, got %v", want, stats.LastSeen)
		}
	})

	t.Run("StatsAccumulate", func(t *testing.T) {
		b := newBackend(t)
		for i := 0; i < 3; i++ {
			err := b.Record(ctx, []Event{{Policy: "api", Key: "a", Outcome: OutcomeAdmit, At: base.Add(time.Duration(i) * time.Second)}})
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		stats, err := b.Stats(ctx, "api")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Counts[OutcomeAdmit] != 3 {
			t.Errorf("Expected counts to accumulate across batches, got %d", stats.Counts[OutcomeAdmit])
		}
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		b := newBackend(t)
		stats, err := b.Stats(ctx, "missing")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Keys != 0 || stats.Counts.Total() != 0 {
			t.Errorf("Expected empty stats, got %+v", stats)
		}

		list, err := b.List(ctx, "missing", 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected no keys, got %d", len(list))
		}
	})

	t.Run("List", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Record(ctx, sampleEvents()); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		list, err := b.List(ctx, "api", 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("Expected 2 keys, got %d", len(list))
		}
		if list[0].Key != "b" || list[1].Key != "a" {
			t.Errorf("Expected most recent first [b a], got [%s %s]", list[0].Key, list[1].Key)
		}
		if list[1].Counts[OutcomeAdmit] != 2 || list[1].Counts[OutcomeReject] != 1 {
			t.Errorf("Unexpected counts for a: %v", list[1].Counts)
		}
		if !list[1].LastSeen.Equal(base.Add(2 * time.Second)) {
			t.Errorf("Expected a last seen at +2s, got %v", list[1].LastSeen)
		}

		limited, err := b.List(ctx, "api", 1)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(limited) != 1 || limited[0].Key != "b" {
			t.Errorf("Expected only b with limit 1, got %d entries", len(limited))
		}
	})

	t.Run("Cleanup", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Record(ctx, sampleEvents()); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		deleted, err := b.Cleanup(ctx, base.Add(5*time.Second))
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		// a (api) and c (other) were last seen before the cutoff.
		if deleted != 2 {
			t.Errorf("Expected 2 keys deleted, got %d", deleted)
		}

		stats, err := b.Stats(ctx, "api")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Keys != 1 {
			t.Errorf("Expected 1 key left, got %d", stats.Keys)
		}
		if stats.Counts[OutcomeAdmit] != 2 {
			t.Errorf("Expected policy totals kept after cleanup, got %d", stats.Counts[OutcomeAdmit])
		}

		list, err := b.List(ctx, "api", 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 1 || list[0].Key != "b" {
			t.Errorf("Expected only b listed after cleanup, got %d entries", len(list))
		}
	})

	t.Run("InvalidEvent", func(t *testing.T) {
		b := newBackend(t)
		err := b.Record(ctx, []Event{{Policy: "api", Outcome: OutcomeAdmit, At: base}})
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("Expected ErrInvalidEvent, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Config{Backend: "cassandra"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNew_DefaultsToMemory(t *testing.T) {
	b, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*MemoryBackend); !ok {
		t.Errorf("Expected *MemoryBackend, got %T", b)
	}
}
