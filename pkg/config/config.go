package config

import (
	"time"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
)

// Config is the root configuration structure for floodgate.
// It contains the gateway server, admission policies, route bindings,
// client key extraction, decision statistics storage, eviction and
// telemetry settings.
type Config struct {
	// Server contains HTTP gateway configuration including listen address,
	// timeouts, upstream and the global in-flight cap.
	Server ServerConfig `yaml:"server"`

	// Policies maps policy names to rate-limiting strategy configurations.
	Policies map[string]PolicyConfig `yaml:"policies"`

	// Routes binds URL path prefixes to policies. The longest matching
	// prefix wins.
	Routes []RouteConfig `yaml:"routes"`

	// Key controls how the client key is extracted from a request.
	Key KeyConfig `yaml:"key"`

	// Storage contains decision statistics configuration.
	Storage StorageConfig `yaml:"storage"`

	// Eviction controls the periodic reclamation of idle per-key state.
	Eviction EvictionConfig `yaml:"eviction"`

	// Telemetry contains configuration for observability including logging,
	// metrics, tracing and health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP gateway.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. It must exceed the longest deferred timeout, since deferred
	// requests hold the response open while queued.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// Upstream is the URL admitted requests are forwarded to. When empty,
	// admitted requests are answered by a built-in echo handler.
	Upstream string `yaml:"upstream"`

	// MaxInFlight caps the number of requests processed at once across all
	// routes. Zero disables the cap.
	// Default: 0
	MaxInFlight int `yaml:"max_in_flight"`

	// RejectStatus is the HTTP status returned for rejected requests.
	// Default: 429
	RejectStatus int `yaml:"reject_status"`

	// StopTimeout bounds how long a drain scheduler may take to stop.
	// Default: 5s
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// PolicyConfig configures one admission policy. Only the fields used by
// Strategy are read.
type PolicyConfig struct {
	// Strategy selects the algorithm.
	// Options: "fixed_window", "sliding_window", "sliding_log",
	// "token_bucket", "leaky_bucket", "gcra"
	Strategy string `yaml:"strategy"`

	// Limit is the max requests per window (window strategies).
	Limit int64 `yaml:"limit"`

	// WindowSizeSeconds is the window length (window strategies).
	WindowSizeSeconds int `yaml:"window_size_seconds"`

	// RefillRatePerSecond is the token refill rate (token_bucket).
	RefillRatePerSecond float64 `yaml:"refill_rate_per_second"`

	// MaxTokens is the bucket capacity (token_bucket).
	MaxTokens float64 `yaml:"max_tokens"`

	// InitialTokens is the starting token count. Unset starts full
	// (token_bucket).
	InitialTokens *float64 `yaml:"initial_tokens"`

	// BucketCapacity is the per-key queue size (leaky_bucket).
	BucketCapacity int `yaml:"bucket_capacity"`

	// LeakRatePerSecond is requests released per second per key (leaky_bucket).
	LeakRatePerSecond float64 `yaml:"leak_rate_per_second"`

	// TickIntervalMillis is the drain scheduler period (leaky_bucket).
	// Default: 100
	TickIntervalMillis int `yaml:"tick_interval_millis"`

	// DeferredTimeoutMillis bounds the time a request may wait in the
	// queue. Zero waits until drained (leaky_bucket).
	// Default: 30000
	DeferredTimeoutMillis int `yaml:"deferred_timeout_millis"`

	// RatePerSecond is the sustained rate (gcra).
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the burst size (gcra).
	Burst int `yaml:"burst"`

	// IdleAfter overrides eviction.idle_after for this policy.
	IdleAfter time.Duration `yaml:"idle_after"`
}

// RateLimit converts the policy to a strategy configuration.
func (p PolicyConfig) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		Type:            p.Strategy,
		Limit:           p.Limit,
		Window:          time.Duration(p.WindowSizeSeconds) * time.Second,
		RefillRate:      p.RefillRatePerSecond,
		MaxTokens:       p.MaxTokens,
		InitialTokens:   p.InitialTokens,
		BucketCapacity:  p.BucketCapacity,
		LeakRate:        p.LeakRatePerSecond,
		TickInterval:    time.Duration(p.TickIntervalMillis) * time.Millisecond,
		DeferredTimeout: time.Duration(p.DeferredTimeoutMillis) * time.Millisecond,
		RatePerSecond:   p.RatePerSecond,
		Burst:           p.Burst,
		IdleAfter:       p.IdleAfter,
	}
}

// RouteConfig binds a path prefix to a policy.
type RouteConfig struct {
	// PathPrefix is matched against the request path (e.g., "/api/").
	PathPrefix string `yaml:"path_prefix"`

	// Policy is the name of the policy applied to matching requests.
	Policy string `yaml:"policy"`
}

// KeyConfig controls client key extraction.
type KeyConfig struct {
	// Header is the request header carrying the client key.
	// Default: "X-API-Key"
	Header string `yaml:"header"`

	// TrustForwardedFor uses the first X-Forwarded-For hop when the header
	// is absent. Only enable behind a trusted proxy.
	// Default: false
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// StorageConfig contains decision statistics configuration.
type StorageConfig struct {
	// Enabled controls whether decisions are recorded.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend.
	// Options: "memory", "sqlite", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Retention is how long per-key statistics are kept after the key was
	// last seen. Zero keeps them forever.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`

	// Recorder configures the asynchronous event writer.
	Recorder RecorderConfig `yaml:"recorder"`

	// Memory contains in-memory backend configuration.
	Memory MemoryStorageConfig `yaml:"memory"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteStorageConfig `yaml:"sqlite"`

	// Redis contains Redis backend configuration.
	Redis RedisStorageConfig `yaml:"redis"`
}

// RecorderConfig configures the asynchronous decision recorder.
type RecorderConfig struct {
	// Buffer is the number of events buffered before new ones are dropped.
	// Default: 4096
	Buffer int `yaml:"buffer"`

	// BatchSize is the maximum number of events per backend write.
	// Default: 256
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the longest an event waits before being written.
	// Default: 1s
	FlushInterval time.Duration `yaml:"flush_interval"`

	// WriteTimeout bounds one backend write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MemoryStorageConfig configures the in-memory statistics backend.
type MemoryStorageConfig struct {
	// MaxEntries bounds the number of tracked keys.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// SQLiteStorageConfig configures the SQLite statistics backend.
type SQLiteStorageConfig struct {
	// Path is the database file path.
	// Default: "data/floodgate.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long to wait for a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is the WAL checkpoint period.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RedisStorageConfig configures the Redis statistics backend.
type RedisStorageConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// PoolSize is the connection pool size.
	// Default: 10
	PoolSize int `yaml:"pool_size"`

	// Prefix namespaces all keys.
	// Default: "floodgate:stats"
	Prefix string `yaml:"prefix"`

	// TTL is the expiry of per-key hashes.
	// Default: 24h
	TTL time.Duration `yaml:"ttl"`
}

// EvictionConfig controls the eviction sweep.
type EvictionConfig struct {
	// Disabled turns the sweep off. Stale fixed-window epochs then
	// accumulate until restart.
	// Default: false
	Disabled bool `yaml:"disabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 1m"
	Schedule string `yaml:"schedule"`

	// IdleAfter is how long a key may go unused before its state is
	// dropped. Applies to strategies that support idle eviction.
	// Default: 10m
	IdleAfter time.Duration `yaml:"idle_after"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactKeys masks client keys in log output.
	// Default: false
	RedactKeys bool `yaml:"redact_keys"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Disabled turns the Prometheus endpoint off.
	// Default: false
	Disabled bool `yaml:"disabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "floodgate"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
