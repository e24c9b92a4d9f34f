package tracing

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for admission decisions.
const (
	AttrPolicy       = attribute.Key("floodgate.policy")
	AttrKey          = attribute.Key("floodgate.key")
	AttrStrategy     = attribute.Key("floodgate.strategy")
	AttrOutcome      = attribute.Key("floodgate.outcome")
	AttrReason       = attribute.Key("floodgate.reason")
	AttrRetryAfterMs = attribute.Key("floodgate.retry_after_ms")
	AttrTaskID       = attribute.Key("floodgate.task_id")
	AttrTaskStatus   = attribute.Key("floodgate.task_status")
	AttrHTTPStatus   = attribute.Key("http.response.status_code")
)

// SetOutcomeAttributes records a decision outcome on span. reason and
// retryAfter are only set when non-empty.
func SetOutcomeAttributes(span trace.Span, strategy, outcome, reason string, retryAfter time.Duration) {
	span.SetAttributes(
		AttrStrategy.String(strategy),
		AttrOutcome.String(outcome),
	)
	if reason != "" {
		span.SetAttributes(AttrReason.String(reason))
	}
	if retryAfter > 0 {
		span.SetAttributes(AttrRetryAfterMs.Int64(retryAfter.Milliseconds()))
	}
}

// AddTaskEvent records the resolution of a deferred task as a span event.
func AddTaskEvent(span trace.Span, taskID, status string, waited time.Duration) {
	span.AddEvent("deferred.resolved", trace.WithAttributes(
		AttrTaskID.String(taskID),
		AttrTaskStatus.String(status),
		attribute.Int64("floodgate.waited_ms", waited.Milliseconds()),
	))
}
