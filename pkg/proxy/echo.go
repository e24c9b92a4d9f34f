package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"mercator-hq/floodgate/pkg/proxy/middleware"
	"mercator-hq/floodgate/pkg/proxy/types"
	"mercator-hq/floodgate/pkg/telemetry/logging"
)

// EchoHandler answers admitted requests itself when no upstream is
// configured. The JSON body reports how the request was admitted, which
// makes it useful for trying policies out.
func EchoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := types.EchoResponse{
			RequestID: logging.GetRequestID(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Timestamp: time.Now().UTC(),
		}
		if a := middleware.GetAdmission(r.Context()); a != nil {
			resp.Policy = a.Policy
			resp.Key = logging.RedactKey(a.Key)
			resp.Outcome = a.Outcome
			resp.WaitedMs = a.Waited.Milliseconds()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(resp)
		}
	})
}
