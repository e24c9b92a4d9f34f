package ratelimit

import (
	"time"
)

// Outcome is the kind of admission decision.
type Outcome int

const (
	// Admit lets the caller proceed immediately.
	Admit Outcome = iota

	// Reject tells the caller to refuse the request.
	Reject

	// Deferred means the request was queued; its Task runs later.
	Deferred
)

// String returns the lowercase outcome name used in logs and metric labels.
func (o Outcome) String() string {
	switch o {
	case Admit:
		return "admit"
	case Reject:
		return "reject"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Decision is the uniform result of Strategy.Decide.
type Decision struct {
	// Outcome is Admit, Reject or Deferred.
	Outcome Outcome

	// Reason is set on Reject: ErrLimitExceeded or ErrQueueFull.
	Reason error

	// RetryAfter suggests how long to wait before retrying. Zero means no hint.
	RetryAfter time.Duration

	// Limit is the configured limit of the strategy that decided.
	Limit int64

	// Remaining is a best-effort count of requests left before rejection.
	Remaining int64

	// Task is the queued continuation when Outcome is Deferred.
	Task *Task
}

// Admitted reports whether the caller may proceed now.
func (d Decision) Admitted() bool {
	return d.Outcome == Admit
}

// admitDecision builds an Admit decision.
func admitDecision(limit, remaining int64) Decision {
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Outcome: Admit, Limit: limit, Remaining: remaining}
}

// rejectDecision builds a Reject decision.
func rejectDecision(reason error, retryAfter time.Duration, limit int64) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Outcome: Reject, Reason: reason, RetryAfter: retryAfter, Limit: limit}
}

// deferDecision builds a Deferred decision for a queued task.
func deferDecision(task *Task, limit, remaining int64) Decision {
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Outcome: Deferred, Task: task, Limit: limit, Remaining: remaining}
}
