package middleware

import (
	"net/http"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/proxy/types"
)

// OverloadRecorder counts requests refused by MaxInFlight.
type OverloadRecorder interface {
	RecordOverload()
}

// MaxInFlight refuses requests with 503 while limiter has no free slot.
// A nil limiter disables the cap. recorder may be nil.
func MaxInFlight(limiter *ratelimit.ConcurrentLimiter, recorder OverloadRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := limiter.Acquire()
			if !ok {
				if recorder != nil {
					recorder.RecordOverload()
				}
				setRetryAfter(w, DeferredRetryAfter)
				WriteError(w, http.StatusServiceUnavailable,
					types.NewServiceUnavailableError("too many requests in flight", types.CodeOverloaded))
				return
			}
			defer release()
			next.ServeHTTP(w, r)
		})
	}
}
