package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
)

const minimalYAML = `
policies:
  api:
    strategy: fixed_window
    limit: 5
    window_size_seconds: 60
`

const fullYAML = `
server:
  listen_address: "0.0.0.0:9090"
  upstream: "http://localhost:9000"
  max_in_flight: 100
  reject_status: 403

policies:
  api:
    strategy: token_bucket
    max_tokens: 50
    refill_rate_per_second: 10
    initial_tokens: 0
  uploads:
    strategy: leaky_bucket
    bucket_capacity: 3
    leak_rate_per_second: 1
    tick_interval_millis: 200
    deferred_timeout_millis: 10000
  search:
    strategy: gcra
    rate_per_second: 5
    burst: 10

routes:
  - path_prefix: /api/
    policy: api
  - path_prefix: /upload
    policy: uploads

key:
  header: X-Client-ID
  trust_forwarded_for: true

storage:
  enabled: true
  backend: sqlite
  sqlite:
    path: /tmp/floodgate.db
    driver: sqlite3

eviction:
  schedule: "*/5 * * * *"
  idle_after: 30m

telemetry:
  logging:
    level: debug
    format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "floodgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// ============================================================================
// Parse Tests
// ============================================================================

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("Expected default listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.RejectStatus != 429 {
		t.Errorf("Expected reject status 429, got %d", cfg.Server.RejectStatus)
	}
	if cfg.Key.Header != "X-API-Key" {
		t.Errorf("Expected default key header, got %q", cfg.Key.Header)
	}
	if cfg.Storage.Enabled {
		t.Error("Expected storage disabled by default")
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Expected memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Eviction.Schedule != DefaultEvictionSchedule {
		t.Errorf("Expected default eviction schedule, got %q", cfg.Eviction.Schedule)
	}
	if cfg.Telemetry.Metrics.Path != "/metrics" {
		t.Errorf("Expected /metrics, got %q", cfg.Telemetry.Metrics.Path)
	}

	p := cfg.Policies["api"]
	if p.IdleAfter != DefaultEvictionIdleAfter {
		t.Errorf("Expected policy to inherit idle_after, got %v", p.IdleAfter)
	}
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.RejectStatus != 403 {
		t.Errorf("Expected reject status 403, got %d", cfg.Server.RejectStatus)
	}
	if cfg.Server.MaxInFlight != 100 {
		t.Errorf("Expected max in flight 100, got %d", cfg.Server.MaxInFlight)
	}
	if len(cfg.Routes) != 2 || cfg.Routes[1].Policy != "uploads" {
		t.Errorf("Unexpected routes: %+v", cfg.Routes)
	}
	if cfg.Key.Header != "X-Client-ID" || !cfg.Key.TrustForwardedFor {
		t.Errorf("Unexpected key config: %+v", cfg.Key)
	}
	if cfg.Storage.SQLite.Driver != "sqlite3" {
		t.Errorf("Expected sqlite3 driver, got %q", cfg.Storage.SQLite.Driver)
	}

	api := cfg.Policies["api"]
	if api.InitialTokens == nil || *api.InitialTokens != 0 {
		t.Errorf("Expected explicit initial tokens 0, got %v", api.InitialTokens)
	}
	if api.IdleAfter != 30*time.Minute {
		t.Errorf("Expected idle after 30m, got %v", api.IdleAfter)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte(`
policies:
  api:
    strategy: fixed_window
    limit: 5
    window_size: 60
`))
	if err == nil {
		t.Fatal("Expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "window_size") {
		t.Errorf("Expected error to name the field, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(nil)

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Errors[0].Field != "policies" {
		t.Errorf("Expected policies error, got %v", verr.Errors)
	}
}

// ============================================================================
// Policy Conversion Tests
// ============================================================================

func TestPolicyConfig_RateLimit(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	uploads := cfg.Policies["uploads"].RateLimit()
	if uploads.Type != ratelimit.StrategyLeakyBucket {
		t.Errorf("Expected leaky bucket, got %q", uploads.Type)
	}
	if uploads.TickInterval != 200*time.Millisecond {
		t.Errorf("Expected tick 200ms, got %v", uploads.TickInterval)
	}
	if uploads.DeferredTimeout != 10*time.Second {
		t.Errorf("Expected deferred timeout 10s, got %v", uploads.DeferredTimeout)
	}
	if uploads.BucketCapacity != 3 || uploads.LeakRate != 1 {
		t.Errorf("Unexpected leaky bucket settings: %+v", uploads)
	}

	search := cfg.Policies["search"].RateLimit()
	if search.RatePerSecond != 5 || search.Burst != 10 {
		t.Errorf("Unexpected gcra settings: %+v", search)
	}

	for name, p := range cfg.Policies {
		if err := p.RateLimit().Validate(); err != nil {
			t.Errorf("Policy %s: converted config invalid: %v", name, err)
		}
	}
}

func TestApplyDefaults_LeakyBucket(t *testing.T) {
	cfg := &Config{Policies: map[string]PolicyConfig{
		"q": {Strategy: "leaky_bucket", BucketCapacity: 5, LeakRatePerSecond: 1},
		"w": {Strategy: "fixed_window", Limit: 1, WindowSizeSeconds: 1},
	}}
	ApplyDefaults(cfg)

	q := cfg.Policies["q"]
	if q.TickIntervalMillis != DefaultTickIntervalMillis {
		t.Errorf("Expected default tick, got %d", q.TickIntervalMillis)
	}
	if q.DeferredTimeoutMillis != DefaultDeferredTimeoutMillis {
		t.Errorf("Expected default deferred timeout, got %d", q.DeferredTimeoutMillis)
	}
	if w := cfg.Policies["w"]; w.TickIntervalMillis != 0 {
		t.Errorf("Expected no tick default on fixed window, got %d", w.TickIntervalMillis)
	}
}

func TestApplyDefaults_EvictionDisabled(t *testing.T) {
	cfg := &Config{
		Policies: map[string]PolicyConfig{"w": {Strategy: "sliding_log", Limit: 1, WindowSizeSeconds: 1}},
		Eviction: EvictionConfig{Disabled: true},
	}
	ApplyDefaults(cfg)

	if cfg.Policies["w"].IdleAfter != 0 {
		t.Errorf("Expected no idle eviction when eviction is disabled, got %v", cfg.Policies["w"].IdleAfter)
	}
}

// ============================================================================
// Load Tests
// ============================================================================

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, fullYAML)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("Expected 0.0.0.0:9090, got %q", cfg.Server.ListenAddress)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	t.Setenv("FLOODGATE_SERVER_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("FLOODGATE_SERVER_MAX_IN_FLIGHT", "25")
	t.Setenv("FLOODGATE_STORAGE_ENABLED", "true")
	t.Setenv("FLOODGATE_STORAGE_BACKEND", "redis")
	t.Setenv("FLOODGATE_STORAGE_REDIS_ADDRESS", "redis:6379")
	t.Setenv("FLOODGATE_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("FLOODGATE_SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("Expected listen address override, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.MaxInFlight != 25 {
		t.Errorf("Expected max in flight 25, got %d", cfg.Server.MaxInFlight)
	}
	if !cfg.Storage.Enabled || cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Address != "redis:6379" {
		t.Errorf("Unexpected storage overrides: %+v", cfg.Storage)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Expected level warn, got %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Expected unparseable override ignored, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_Invalid(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	t.Setenv("FLOODGATE_STORAGE_BACKEND", "postgres")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil {
		t.Fatal("Expected validation error after override")
	}
	if !strings.Contains(err.Error(), "storage.backend") {
		t.Errorf("Expected storage.backend error, got %v", err)
	}
}

// ============================================================================
// Singleton Tests
// ============================================================================

func TestSingleton(t *testing.T) {
	defer SetConfig(nil)

	SetConfig(nil)
	if GetConfig() != nil {
		t.Fatal("Expected nil config")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected MustGetConfig to panic without configuration")
			}
		}()
		MustGetConfig()
	}()

	path := writeConfig(t, minimalYAML)
	cfg, err := ReloadConfig(path)
	if err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if GetConfig() != cfg {
		t.Error("Expected reloaded config to become global")
	}

	if err := os.WriteFile(path, []byte("policies: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReloadConfig(path); err == nil {
		t.Fatal("Expected reload of invalid config to fail")
	}
	if GetConfig() != cfg {
		t.Error("Expected previous config kept after failed reload")
	}
}
