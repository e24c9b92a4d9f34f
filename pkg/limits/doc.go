// Package limits is the floodgate admission engine.
//
// # Overview
//
// A Manager holds a set of named policies. Each policy is one rate-limiting
// strategy from the ratelimit sub-package, configured once at startup:
//
//   - fixed_window, sliding_window, sliding_log: request counts per window
//   - token_bucket, gcra: sustained rate with a burst allowance
//   - leaky_bucket: a per-key queue drained at a steady rate
//
// Manager.Decide runs one policy for one client key and returns a Decision
// annotated with the policy, key and strategy. Rejections carry a reason
// and, where the strategy can compute one, a retry hint. Decision.Err turns
// a rejection into a *LimitError for callers that prefer errors.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: strategies, per-key state, deferred tasks and the drain scheduler
//   - storage: decision statistics backends (memory, SQLite, Redis)
//   - eviction: cron-driven reclamation of idle per-key state and old statistics
//
// Around every decision the Manager records Prometheus metrics (Metrics),
// opens an OpenTelemetry span and hands an event to the asynchronous
// statistics Recorder.
//
// # Lifecycle
//
// Leaky bucket policies own a drain scheduler. Manager.Start starts them and
// Manager.Stop stops them; requests still queued at Stop are resolved with
// ratelimit.ErrSchedulerStopped so no caller waits forever.
//
// # Thread Safety
//
// Manager, Metrics and Recorder are safe for concurrent use.
package limits
