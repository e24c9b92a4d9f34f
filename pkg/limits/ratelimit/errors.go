package ratelimit

import "errors"

// Reasons attached to rejected decisions and resolved tasks.
var (
	// ErrLimitExceeded is the normal policy outcome when a key is over its limit.
	ErrLimitExceeded = errors.New("rate limit exceeded")

	// ErrQueueFull is returned when a leaky bucket queue has no free slot.
	ErrQueueFull = errors.New("request queue full")

	// ErrDeferredTimeout resolves a queued request that aged out before it was drained.
	ErrDeferredTimeout = errors.New("deferred request timed out")

	// ErrDispatchFailure resolves a queued request whose continuation failed or panicked.
	ErrDispatchFailure = errors.New("deferred dispatch failed")

	// ErrTickFailure marks an unexpected fault while draining one key during a tick.
	ErrTickFailure = errors.New("scheduler tick failed")
)

// Lifecycle errors.
var (
	// ErrSchedulerStopped resolves requests still queued when the scheduler stops.
	ErrSchedulerStopped = errors.New("drain scheduler stopped")

	// ErrSchedulerRunning is returned by Start on a scheduler that is already running.
	ErrSchedulerRunning = errors.New("drain scheduler already running")

	// ErrStopTimeout is returned by Stop when the drain loop does not exit in time.
	ErrStopTimeout = errors.New("drain scheduler did not stop in time")

	// ErrTaskQueued is the reject reason for a task that was already queued once.
	ErrTaskQueued = errors.New("task already queued or resolved")

	// ErrTaskCancelled resolves a queued request cancelled by its caller.
	ErrTaskCancelled = errors.New("deferred request cancelled")
)
