// Package ratelimit implements the admission strategies and their per-key state.
//
// # Overview
//
// Every strategy implements Strategy and returns a Decision:
//
//   - Fixed Window: one atomic counter per (key, window)
//   - Sliding Window: weighted current and previous window counts
//   - Sliding Log: exact trailing-window timestamp log
//   - Token Bucket: refill at a constant rate, burst up to capacity
//   - Leaky Bucket: bounded per-key queue drained by a Scheduler
//   - GCRA: golang.org/x/time/rate per key
//
// A Decision is Admit, Reject (with a reason and an optional retry hint) or,
// for the leaky bucket only, Deferred (with the queued Task).
//
// # Time
//
// Strategies take the decision time as an argument and never read the wall
// clock. SystemClock provides second resolution time; ManualClock lets tests
// step time explicitly. Leaky bucket queue deadlines are stamped and checked
// with the scheduler clock instead, which defaults to MonotonicClock so that
// sub-second deferred timeouts hold.
//
// # Deferred Requests
//
// The leaky bucket never blocks the caller. The caller wraps "resume this
// request" in a Task and passes it to Decide; on Deferred the task sits in
// the key's queue until the Scheduler runs it, or it is resolved without
// running (timeout, cancel, shutdown). Either way Task.Done is closed
// exactly once:
//
//	task := ratelimit.NewTask(func(ctx context.Context) error {
//	    return resume(ctx)
//	})
//	d := bucket.Decide(key, clock.Now(), task)
//	if d.Outcome == ratelimit.Deferred {
//	    err := task.Wait(ctx)
//	}
//
// All queues of one bucket share one scheduler and one per-tick quota; each
// key drains at the configured rate independently of the others.
//
// # State
//
// Per-key state lives in a KeyedStore, created on first use. Strategies that
// implement Evictor can drop state that no longer affects decisions; the
// limits package runs eviction on a schedule.
//
// # Thread Safety
//
// All strategies are safe for concurrent use on the same and different keys.
package ratelimit
