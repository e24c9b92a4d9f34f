package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
)

// Error types for manager level failures.
var (
	// ErrUnknownPolicy is the reject reason for a policy name that is not configured.
	ErrUnknownPolicy = errors.New("unknown policy")

	// ErrConfigInvalid is returned when a policy configuration is invalid.
	ErrConfigInvalid = errors.New("invalid limits configuration")

	// ErrManagerStopped is the reject reason for decisions after Stop.
	ErrManagerStopped = errors.New("limits manager stopped")
)

// Decision is a strategy decision annotated with the policy and key that
// produced it.
type Decision struct {
	ratelimit.Decision

	// Policy is the name of the policy that decided.
	Policy string

	// Key is the client key.
	Key string

	// Strategy is the strategy type of the policy.
	Strategy string
}

// Err returns nil unless the decision is a Reject, in which case it returns
// a *LimitError wrapping the reject reason.
func (d Decision) Err() error {
	if d.Outcome != ratelimit.Reject {
		return nil
	}
	return &LimitError{
		Policy:     d.Policy,
		Key:        d.Key,
		Strategy:   d.Strategy,
		RetryAfter: d.RetryAfter,
		Err:        d.Reason,
	}
}

// LimitError provides detailed context about a rejected request.
// This wraps the reject reason with additional information for debugging.
type LimitError struct {
	// Policy is the policy name.
	Policy string

	// Key is the client key.
	Key string

	// Strategy is the strategy type.
	Strategy string

	// RetryAfter is the retry hint, zero if none.
	RetryAfter time.Duration

	// Err is the underlying reason (ErrLimitExceeded, ErrQueueFull, ...).
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	msg := fmt.Sprintf("policy %s rejected key %s: %v", e.Policy, e.Key, e.Err)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error for error wrapping.
func (e *LimitError) Unwrap() error {
	return e.Err
}

// PolicyError reports an invalid policy configuration.
type PolicyError struct {
	// Policy is the policy name.
	Policy string

	// Err is the validation failure.
	Err error
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %q: %v", e.Policy, e.Err)
}

// Unwrap returns ErrConfigInvalid and the validation failure.
func (e *PolicyError) Unwrap() []error {
	return []error{ErrConfigInvalid, e.Err}
}
