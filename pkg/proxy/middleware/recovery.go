package middleware

import (
	"net/http"
	"runtime/debug"

	"mercator-hq/floodgate/pkg/proxy/types"
	"mercator-hq/floodgate/pkg/telemetry/logging"
)

// Recovery recovers from panics in HTTP handlers and returns a 500 error
// body. The panic is logged with its stack trace; clients see no internal
// details. http.ErrAbortHandler is re-panicked so the server aborts the
// connection as intended.
//
//	handler = Recovery(handler)
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			logging.FromContext(r.Context()).Error("Panic in handler",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			WriteError(w, http.StatusInternalServerError,
				types.NewServerError("An internal error occurred. Please try again later."))
		}()

		next.ServeHTTP(w, r)
	})
}
