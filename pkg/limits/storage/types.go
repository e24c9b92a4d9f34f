package storage

import (
	"context"
	"errors"
	"time"
)

// Outcome names recorded in Counts.
const (
	OutcomeAdmit     = "admit"
	OutcomeReject    = "reject"
	OutcomeDeferred  = "deferred"
	OutcomeDrained   = "drained"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeCancelled = "cancelled"
	OutcomeAbandoned = "abandoned"
)

// ErrInvalidEvent is returned by Record for an event missing policy, key or outcome.
var ErrInvalidEvent = errors.New("invalid decision event")

// Backend stores aggregated admission decision statistics.
// Implementations must be thread-safe and support concurrent access.
//
// Only counts are stored. Limiter state itself is never persisted.
type Backend interface {
	// Record adds a batch of events to the per-policy and per-key counters.
	Record(ctx context.Context, events []Event) error

	// Stats returns the aggregate counts for a policy. An unknown policy
	// yields empty stats, not an error.
	Stats(ctx context.Context, policy string) (*PolicyStats, error)

	// List returns up to limit keys of a policy, most recently seen first.
	// A limit <= 0 returns every key.
	List(ctx context.Context, policy string, limit int) ([]*KeyStats, error)

	// Cleanup removes keys not seen since olderThan and returns how many
	// were removed. Policy totals are kept.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Event is one admission outcome for a client key.
type Event struct {
	// Policy is the name of the policy that decided.
	Policy string

	// Key is the client key.
	Key string

	// Outcome is one of the Outcome* constants.
	Outcome string

	// At is when the outcome happened.
	At time.Time
}

func (e Event) validate() error {
	if e.Policy == "" || e.Key == "" || e.Outcome == "" {
		return ErrInvalidEvent
	}
	return nil
}

// Counts maps an outcome name to the number of times it was recorded.
type Counts map[string]int64

// Total returns the sum of all decision outcomes (admit, reject, deferred).
// Resolution outcomes of deferred requests are not decisions and are not
// included.
func (c Counts) Total() int64 {
	return c[OutcomeAdmit] + c[OutcomeReject] + c[OutcomeDeferred]
}

func (c Counts) add(outcome string, n int64) {
	c[outcome] += n
}

// PolicyStats aggregates every key of one policy.
type PolicyStats struct {
	// Policy is the policy name.
	Policy string

	// Counts holds the per-outcome totals.
	Counts Counts

	// Keys is the number of distinct keys currently tracked.
	Keys int

	// LastSeen is the time of the most recent event, zero if none.
	LastSeen time.Time
}

// KeyStats holds the counts of one client key under one policy.
type KeyStats struct {
	// Policy is the policy name.
	Policy string

	// Key is the client key.
	Key string

	// Counts holds the per-outcome totals.
	Counts Counts

	// LastSeen is the time of the most recent event for this key.
	LastSeen time.Time
}
