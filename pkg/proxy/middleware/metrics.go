package middleware

import (
	"net/http"
	"time"
)

// RequestRecorder records completed requests. *metrics.Collector
// implements it.
type RequestRecorder interface {
	RecordRequest(policy, method string, status int, d time.Duration)
	IncInFlight() func()
}

// Metrics records status and latency of every request under policy.
// Latency includes time spent deferred.
func Metrics(recorder RequestRecorder, policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := recorder.IncInFlight()
			defer done()

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)
			recorder.RecordRequest(policy, r.Method, rw.status(r), time.Since(start))
		})
	}
}
