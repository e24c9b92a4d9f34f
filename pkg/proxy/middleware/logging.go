package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/floodgate/pkg/telemetry/logging"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	bytes      int64
}

// newResponseWriter wraps w, reusing an existing wrapper.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController, which
// the reverse proxy uses to flush streamed responses.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// StatusClientClosedRequest is logged when the client went away before a
// response was written.
const StatusClientClosedRequest = 499

// status returns the status to report for r.
func (rw *responseWriter) status(r *http.Request) int {
	if !rw.written && r.Context().Err() != nil {
		return StatusClientClosedRequest
	}
	return rw.statusCode
}

// Logging logs every request with method, path, status and latency at a
// level chosen by the status: errors for 5xx, warnings for 4xx.
//
//	{
//	  "time": "2026-01-16T10:30:00Z",
//	  "level": "WARN",
//	  "msg": "Request completed",
//	  "request_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "method": "GET",
//	  "path": "/api/orders",
//	  "status": 429,
//	  "latency_ms": 1
//	}
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx := context.WithValue(r.Context(), StartTimeKey, startTime)
		logger := logging.FromContext(ctx)

		rw := newResponseWriter(w)
		logger.Debug("Request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		next.ServeHTTP(rw, r.WithContext(ctx))

		status := rw.status(r)
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		logger.Log(ctx, level, "Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", rw.bytes,
			"latency_ms", time.Since(startTime).Milliseconds(),
			"user_agent", r.UserAgent(),
		)
	})
}
