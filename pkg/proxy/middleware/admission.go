package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/floodgate/pkg/limits"
	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/proxy/types"
	"mercator-hq/floodgate/pkg/telemetry/logging"
	"mercator-hq/floodgate/pkg/telemetry/tracing"
)

// Rate limit response headers.
const (
	HeaderPolicy    = "X-RateLimit-Policy"
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
)

// DeferredRetryAfter is the retry hint sent when a queued request times out.
const DeferredRetryAfter = time.Second

// Decider makes admission decisions. *limits.Manager implements it.
type Decider interface {
	Decide(ctx context.Context, policy, key string, task *ratelimit.Task) limits.Decision
}

// AdmissionConfig configures the admission middleware for one route.
type AdmissionConfig struct {
	// Policy is the policy name passed to the Decider.
	Policy string

	// Decider decides every request.
	Decider Decider

	// KeyFunc extracts the client key. Default: RemoteAddr host.
	KeyFunc KeyFunc

	// RejectStatus is the status for requests over their limit.
	// Default: 429.
	RejectStatus int
}

// Admission gates next behind the configured policy.
//
// # Outcomes
//
//   - Admit: next runs immediately.
//   - Reject: RejectStatus with Retry-After and a JSON error body. Requests
//     refused because the gateway is stopping get 503 instead.
//   - Deferred: the request goroutine parks on the queued task. When the
//     drain scheduler runs the task, next runs on the request goroutine.
//     If the task times out in the queue the client gets 503 with
//     Retry-After; if it cannot be dispatched, 500. A client that
//     disconnects while queued cancels its task, freeing the slot.
//
// Every response carries X-RateLimit-Policy; responses from counting
// strategies also carry X-RateLimit-Limit and X-RateLimit-Remaining.
func Admission(cfg AdmissionConfig) func(http.Handler) http.Handler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(r *http.Request) string { return remoteHost(r.RemoteAddr) }
	}
	if cfg.RejectStatus == 0 {
		cfg.RejectStatus = http.StatusTooManyRequests
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := cfg.KeyFunc(r)

			task := ratelimit.NewTask(resume(ctx))
			d := cfg.Decider.Decide(ctx, cfg.Policy, key, task)
			setLimitHeaders(w, d)

			switch d.Outcome {
			case ratelimit.Admit:
				serve(next, w, r, &AdmissionInfo{Policy: cfg.Policy, Key: key, Outcome: d.Outcome.String()})

			case ratelimit.Deferred:
				queued := time.Now()
				err := d.Task.Wait(ctx)
				waited := time.Since(queued)
				tracing.AddTaskEvent(trace.SpanFromContext(ctx), d.Task.ID(), d.Task.Status().String(), waited)

				if err != nil {
					failDeferred(w, r, d, err)
					return
				}
				serve(next, w, r, &AdmissionInfo{Policy: cfg.Policy, Key: key, Outcome: d.Outcome.String(), Waited: waited})

			default:
				reject(w, d, cfg.RejectStatus)
			}
		})
	}
}

// resume is the task run by the drain scheduler. The handler goroutine is
// released by the task resolving; the run itself only refuses to dispatch
// a request whose client is already gone.
func resume(reqCtx context.Context) ratelimit.TaskFunc {
	return func(context.Context) error {
		if err := reqCtx.Err(); err != nil {
			return fmt.Errorf("client disconnected: %w", err)
		}
		return nil
	}
}

func serve(next http.Handler, w http.ResponseWriter, r *http.Request, a *AdmissionInfo) {
	ctx := context.WithValue(r.Context(), AdmissionKey, a)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func setLimitHeaders(w http.ResponseWriter, d limits.Decision) {
	h := w.Header()
	h.Set(HeaderPolicy, d.Policy)
	if d.Limit > 0 {
		h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
		h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	}
}

func reject(w http.ResponseWriter, d limits.Decision, rejectStatus int) {
	switch {
	case errors.Is(d.Reason, ratelimit.ErrLimitExceeded):
		secs := setRetryAfter(w, d.RetryAfter)
		WriteError(w, rejectStatus, types.NewRateLimitError("rate limit exceeded", types.CodeLimitExceeded, d.Policy, secs))

	case errors.Is(d.Reason, ratelimit.ErrQueueFull):
		secs := setRetryAfter(w, d.RetryAfter)
		WriteError(w, rejectStatus, types.NewRateLimitError("request queue full", types.CodeQueueFull, d.Policy, secs))

	case errors.Is(d.Reason, limits.ErrManagerStopped), errors.Is(d.Reason, ratelimit.ErrSchedulerStopped):
		WriteError(w, http.StatusServiceUnavailable,
			types.NewServiceUnavailableError("gateway is shutting down", types.CodeShuttingDown))

	case errors.Is(d.Reason, limits.ErrUnknownPolicy):
		WriteError(w, http.StatusInternalServerError,
			types.NewErrorResponse("route references an unknown policy", types.ErrorTypeServerError, types.CodeUnknownPolicy))

	default:
		WriteError(w, http.StatusInternalServerError, types.NewServerError("admission failed"))
	}
}

// failDeferred answers a deferred request whose task did not run.
func failDeferred(w http.ResponseWriter, r *http.Request, d limits.Decision, err error) {
	logger := logging.FromContext(r.Context())

	switch {
	case errors.Is(err, ratelimit.ErrTaskCancelled), r.Context().Err() != nil:
		// Client gone; nothing to write.
		logger.Debug("Deferred request abandoned by client", "policy", d.Policy, "key", d.Key)

	case errors.Is(err, ratelimit.ErrDeferredTimeout):
		secs := setRetryAfter(w, DeferredRetryAfter)
		resp := types.NewServiceUnavailableError("request timed out in queue", types.CodeDeferredTimeout)
		resp.Error.Policy = d.Policy
		resp.Error.RetryAfterSeconds = secs
		WriteError(w, http.StatusServiceUnavailable, resp)

	case errors.Is(err, ratelimit.ErrSchedulerStopped):
		WriteError(w, http.StatusServiceUnavailable,
			types.NewServiceUnavailableError("gateway is shutting down", types.CodeShuttingDown))

	default:
		logger.Error("Deferred request dispatch failed", "policy", d.Policy, "key", d.Key, "error", err)
		WriteError(w, http.StatusInternalServerError,
			types.NewErrorResponse("deferred request could not be dispatched", types.ErrorTypeServerError, types.CodeDispatchFailed))
	}
}
