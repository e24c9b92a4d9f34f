package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/floodgate/pkg/proxy/types"
)

// WriteError writes body as JSON with status code.
func WriteError(w http.ResponseWriter, code int, body *types.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RetryAfterSeconds rounds d up to whole seconds, the Retry-After
// granularity. Any positive hint is at least one second.
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// setRetryAfter sets the Retry-After header when d is positive.
func setRetryAfter(w http.ResponseWriter, d time.Duration) int64 {
	secs := RetryAfterSeconds(d)
	if secs > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	return secs
}
