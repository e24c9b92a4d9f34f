package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/floodgate/pkg/config"
	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/proxy/types"
	"mercator-hq/floodgate/pkg/telemetry/logging"
)

func configKey() config.KeyConfig {
	return config.KeyConfig{Header: "X-API-Key"}
}

// ============================================================================
// KeyFunc Tests
// ============================================================================

func TestKeyFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.KeyConfig
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "header wins",
			cfg:     config.KeyConfig{Header: "X-API-Key", TrustForwardedFor: true},
			headers: map[string]string{"X-API-Key": "key-1", "X-Forwarded-For": "203.0.113.9"},
			remote:  "192.0.2.1:5000",
			want:    "key-1",
		},
		{
			name:    "forwarded for first hop",
			cfg:     config.KeyConfig{Header: "X-API-Key", TrustForwardedFor: true},
			headers: map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.1"},
			remote:  "192.0.2.1:5000",
			want:    "203.0.113.9",
		},
		{
			name:    "forwarded for ignored when untrusted",
			cfg:     config.KeyConfig{Header: "X-API-Key"},
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			remote:  "192.0.2.1:5000",
			want:    "192.0.2.1",
		},
		{
			name:   "remote addr host",
			cfg:    config.KeyConfig{Header: "X-API-Key"},
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
		{
			name:   "remote addr without port",
			cfg:    config.KeyConfig{},
			remote: "unix-socket",
			want:   "unix-socket",
		},
		{
			name:    "blank header falls through",
			cfg:     config.KeyConfig{Header: "X-API-Key"},
			headers: map[string]string{"X-API-Key": "   "},
			remote:  "192.0.2.1:5000",
			want:    "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := KeyFromConfig(tt.cfg)(req); got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

// ============================================================================
// RequestID Tests
// ============================================================================

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated", incoming: "", keep: false},
		{name: "client supplied", incoming: "req-123", keep: true},
		{name: "too long", incoming: strings.Repeat("a", 200), keep: false},
		{name: "control characters", incoming: "bad\nid", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logging.GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.NotEqual(t, tt.incoming, seen)
				assert.Len(t, seen, 36)
			}
		})
	}
}

// ============================================================================
// Recovery and Logging Tests
// ============================================================================

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body types.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, types.ErrorTypeServerError, body.Error.Type)
	assert.NotContains(t, body.Error.Message, "boom")
}

func TestRecovery_AbortHandler(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	h := RequestID(logger)(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, GetStartTime(r.Context()).IsZero())
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Request completed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, float64(429), entry["status"])
	assert.Equal(t, float64(len("slow down")), entry["bytes"])
	assert.Equal(t, "/api/orders", entry["path"])
}

// ============================================================================
// In-Flight and Metrics Tests
// ============================================================================

type fakeRecorder struct {
	mu        sync.Mutex
	overloads int
	inFlight  int
	requests  []string
}

func (f *fakeRecorder) RecordOverload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overloads++
}

func (f *fakeRecorder) RecordRequest(policy, method string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, policy+" "+method+" "+http.StatusText(status))
}

func (f *fakeRecorder) IncInFlight() func() {
	f.mu.Lock()
	f.inFlight++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func TestMaxInFlight(t *testing.T) {
	limiter := ratelimit.NewConcurrentLimiter(1)
	recorder := &fakeRecorder{}

	entered := make(chan struct{})
	release := make(chan struct{})
	h := MaxInFlight(limiter, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		done <- rec.Code
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, recorder.overloads)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, int64(0), limiter.Current())
}

func TestMaxInFlight_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := MaxInFlight(nil, nil)(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	recorder := &fakeRecorder{}
	h := Metrics(recorder, "api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, 1, recorder.inFlight)
		w.WriteHeader(http.StatusAccepted)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, []string{"api POST Accepted"}, recorder.requests)
	assert.Equal(t, 0, recorder.inFlight)
}
