package middleware

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"mercator-hq/floodgate/pkg/telemetry/logging"
)

// RequestIDHeader is the HTTP header for request ID.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds client supplied IDs.
const maxRequestIDLength = 128

// RequestID assigns every request an ID and a request-scoped logger.
//
// A client supplied X-Request-ID is kept if it is at most 128 printable
// ASCII characters; otherwise a UUID v4 is generated. The ID is echoed in
// the response header, stored with logging.WithRequestID, and attached to
// the logger returned by logging.FromContext.
//
//	handler = RequestID(logger)(handler)
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if !validRequestID(requestID) {
				requestID = uuid.New().String()
			}

			ctx := logging.WithRequestID(r.Context(), requestID)
			ctx = logging.WithLogger(ctx, logger.With("request_id", requestID))

			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
