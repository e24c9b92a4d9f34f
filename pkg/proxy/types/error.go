package types

import "net/http"

// ErrorResponse is the JSON body of every response the gateway itself
// refuses or fails.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error (see the ErrorType constants).
	Type string `json:"type"`

	// Code is a machine-readable reason.
	Code string `json:"code,omitempty"`

	// Policy is the admission policy that decided, if any.
	Policy string `json:"policy,omitempty"`

	// RetryAfterSeconds mirrors the Retry-After header.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// Error types.
const (
	// ErrorTypeRateLimitExceeded indicates the request was rejected by policy.
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeNotFound indicates no route matched (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeServerError indicates an internal failure (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeBadGateway indicates the upstream failed (502).
	ErrorTypeBadGateway = "bad_gateway"

	// ErrorTypeServiceUnavailable indicates temporary unavailability (503).
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// Error codes.
const (
	// CodeLimitExceeded means the key is over its limit.
	CodeLimitExceeded = "limit_exceeded"

	// CodeQueueFull means the key's leaky bucket queue had no free slot.
	CodeQueueFull = "queue_full"

	// CodeDeferredTimeout means the request aged out while queued.
	CodeDeferredTimeout = "deferred_timeout"

	// CodeDispatchFailed means the queued request could not be resumed.
	CodeDispatchFailed = "dispatch_failed"

	// CodeShuttingDown means the gateway is stopping.
	CodeShuttingDown = "shutting_down"

	// CodeUnknownPolicy means the route names a policy that does not exist.
	CodeUnknownPolicy = "unknown_policy"

	// CodeOverloaded means the global in-flight cap was reached.
	CodeOverloaded = "overloaded"

	// CodeUpstreamError means the upstream could not be reached.
	CodeUpstreamError = "upstream_error"

	// CodeNoRoute means no configured route matched the path.
	CodeNoRoute = "no_route"

	// CodeInternalError indicates an internal server error.
	CodeInternalError = "internal_error"
)

// NewErrorResponse creates an error response.
func NewErrorResponse(message, errorType, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Code:    code,
		},
	}
}

// NewRateLimitError creates the response for a rejected request.
func NewRateLimitError(message, code, policy string, retryAfterSeconds int64) *ErrorResponse {
	resp := NewErrorResponse(message, ErrorTypeRateLimitExceeded, code)
	resp.Error.Policy = policy
	resp.Error.RetryAfterSeconds = retryAfterSeconds
	return resp
}

// NewServerError creates the response for an internal failure.
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, CodeInternalError)
}

// NewServiceUnavailableError creates a 503 response body.
func NewServiceUnavailableError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServiceUnavailable, code)
}

// NewBadGatewayError creates the response for an upstream failure.
func NewBadGatewayError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeBadGateway, CodeUpstreamError)
}

// HTTPStatusCode returns the default status for the error type. Rate limit
// errors default to 429; the gateway may be configured to use another.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeBadGateway:
		return http.StatusBadGateway
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
