package types

import "time"

// EchoResponse is returned by the built-in handler when no upstream is
// configured. It shows how the request was admitted.
type EchoResponse struct {
	// RequestID is the X-Request-ID of the request.
	RequestID string `json:"request_id"`

	// Method and Path identify the request.
	Method string `json:"method"`
	Path   string `json:"path"`

	// Policy is the admission policy of the matched route.
	Policy string `json:"policy,omitempty"`

	// Key is the redacted client key.
	Key string `json:"key,omitempty"`

	// Outcome is "admit" or "deferred".
	Outcome string `json:"outcome,omitempty"`

	// WaitedMs is how long a deferred request sat in its queue.
	WaitedMs int64 `json:"waited_ms,omitempty"`

	// Timestamp is when the response was produced.
	Timestamp time.Time `json:"timestamp"`
}
