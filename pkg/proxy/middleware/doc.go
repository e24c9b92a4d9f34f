// Package middleware provides the gateway's HTTP middleware.
//
// # Middleware Chain
//
// The server applies, outermost first:
//
//	Recovery → RequestID → tracing → Logging → MaxInFlight → Metrics → Admission → handler
//
// Recovery, RequestID, tracing and Logging wrap the whole router; Metrics
// and Admission are applied per route, with the route's policy.
//
// # Admission
//
// Admission asks a Decider (the limits manager) about every request under
// the key returned by KeyFunc. Admitted requests pass through; rejected
// ones get a JSON error with Retry-After; deferred ones wait on their
// queued task and pass through when the drain scheduler releases them.
//
// # Request ID
//
// RequestID keeps a well-formed client X-Request-ID or generates a UUID,
// and stores a request-scoped logger carrying it:
//
//	logging.FromContext(r.Context()).Info("...")
//
// # Error Responses
//
// Every response the gateway writes itself uses types.ErrorResponse.
package middleware
