package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultRejectStatus    = 429
	DefaultStopTimeout     = 5 * time.Second

	// Policy defaults
	DefaultTickIntervalMillis    = 100
	DefaultDeferredTimeoutMillis = 30000

	// Key defaults
	DefaultKeyHeader = "X-API-Key"

	// Storage defaults
	DefaultStorageBackend           = "memory"
	DefaultStorageRetention         = 24 * time.Hour
	DefaultRecorderBuffer           = 4096
	DefaultRecorderBatchSize        = 256
	DefaultRecorderFlushInterval    = time.Second
	DefaultRecorderWriteTimeout     = 5 * time.Second
	DefaultMemoryMaxEntries         = 100000
	DefaultSQLitePath               = "data/floodgate.db"
	DefaultSQLiteDriver             = "sqlite"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultRedisAddress             = "localhost:6379"
	DefaultRedisPoolSize            = 10
	DefaultRedisPrefix              = "floodgate:stats"
	DefaultRedisTTL                 = 24 * time.Hour

	// Eviction defaults
	DefaultEvictionSchedule  = "@every 1m"
	DefaultEvictionIdleAfter = 10 * time.Minute

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "floodgate"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// ApplyDefaults sets default values for all unset configuration fields.
// Fields that already have values are not modified.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.RejectStatus == 0 {
		cfg.Server.RejectStatus = DefaultRejectStatus
	}
	if cfg.Server.StopTimeout == 0 {
		cfg.Server.StopTimeout = DefaultStopTimeout
	}

	// Eviction defaults come before policies, which inherit IdleAfter
	if cfg.Eviction.Schedule == "" {
		cfg.Eviction.Schedule = DefaultEvictionSchedule
	}
	if cfg.Eviction.IdleAfter == 0 {
		cfg.Eviction.IdleAfter = DefaultEvictionIdleAfter
	}

	// Policy defaults - applied to each policy
	for name, policy := range cfg.Policies {
		if policy.Strategy == "leaky_bucket" {
			if policy.TickIntervalMillis == 0 {
				policy.TickIntervalMillis = DefaultTickIntervalMillis
			}
			if policy.DeferredTimeoutMillis == 0 {
				policy.DeferredTimeoutMillis = DefaultDeferredTimeoutMillis
			}
		}
		if policy.IdleAfter == 0 && !cfg.Eviction.Disabled {
			policy.IdleAfter = cfg.Eviction.IdleAfter
		}
		cfg.Policies[name] = policy
	}

	// Key defaults
	if cfg.Key.Header == "" {
		cfg.Key.Header = DefaultKeyHeader
	}

	// Storage defaults
	applyStorageDefaults(&cfg.Storage)

	// Telemetry defaults
	applyTelemetryDefaults(&cfg.Telemetry)
}

// applyStorageDefaults sets defaults for decision statistics storage.
func applyStorageDefaults(s *StorageConfig) {
	if s.Backend == "" {
		s.Backend = DefaultStorageBackend
	}
	if s.Retention == 0 {
		s.Retention = DefaultStorageRetention
	}

	if s.Recorder.Buffer == 0 {
		s.Recorder.Buffer = DefaultRecorderBuffer
	}
	if s.Recorder.BatchSize == 0 {
		s.Recorder.BatchSize = DefaultRecorderBatchSize
	}
	if s.Recorder.FlushInterval == 0 {
		s.Recorder.FlushInterval = DefaultRecorderFlushInterval
	}
	if s.Recorder.WriteTimeout == 0 {
		s.Recorder.WriteTimeout = DefaultRecorderWriteTimeout
	}

	if s.Memory.MaxEntries == 0 {
		s.Memory.MaxEntries = DefaultMemoryMaxEntries
	}

	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultSQLitePath
	}
	if s.SQLite.Driver == "" {
		s.SQLite.Driver = DefaultSQLiteDriver
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if s.SQLite.CheckpointInterval == 0 {
		s.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}

	if s.Redis.Address == "" {
		s.Redis.Address = DefaultRedisAddress
	}
	if s.Redis.PoolSize == 0 {
		s.Redis.PoolSize = DefaultRedisPoolSize
	}
	if s.Redis.Prefix == "" {
		s.Redis.Prefix = DefaultRedisPrefix
	}
	if s.Redis.TTL == 0 {
		s.Redis.TTL = DefaultRedisTTL
	}
}

// applyTelemetryDefaults sets defaults for logging, metrics, tracing and health.
func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}

	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
