package middleware

import (
	"context"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"

	// AdmissionKey stores the *AdmissionInfo for an admitted request.
	AdmissionKey contextKey = "admission"
)

// AdmissionInfo describes how a request got through the admission middleware.
type AdmissionInfo struct {
	// Policy is the policy that decided.
	Policy string

	// Key is the client key the decision was made for.
	Key string

	// Outcome is "admit" or "deferred".
	Outcome string

	// Waited is the time spent queued; zero unless deferred.
	Waited time.Duration
}

// GetAdmission returns the admission recorded in ctx, or nil.
func GetAdmission(ctx context.Context) *AdmissionInfo {
	a, _ := ctx.Value(AdmissionKey).(*AdmissionInfo)
	return a
}

// GetStartTime extracts the request start time from the context.
// Returns zero time if not found.
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}
