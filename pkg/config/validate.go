package config

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePolicies(cfg.Policies, cfg.Server.WriteTimeout)...)
	errs = append(errs, validateRoutes(cfg.Routes, cfg.Policies)...)
	errs = append(errs, validateKey(&cfg.Key)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateEviction(&cfg.Eviction)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates gateway server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}

	for field, d := range map[string]time.Duration{
		"server.read_timeout":     cfg.ReadTimeout,
		"server.write_timeout":    cfg.WriteTimeout,
		"server.idle_timeout":     cfg.IdleTimeout,
		"server.shutdown_timeout": cfg.ShutdownTimeout,
		"server.stop_timeout":     cfg.StopTimeout,
	} {
		if d < 0 {
			errs = append(errs, FieldError{Field: field, Message: "must not be negative"})
		}
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxInFlight < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_in_flight",
			Message: "max in flight must be non-negative",
		})
	}
	if cfg.RejectStatus < 400 || cfg.RejectStatus > 599 {
		errs = append(errs, FieldError{
			Field:   "server.reject_status",
			Message: fmt.Sprintf("reject status must be a 4xx or 5xx code, got %d", cfg.RejectStatus),
		})
	}

	if cfg.Upstream != "" {
		u, err := url.Parse(cfg.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "server.upstream",
				Message: fmt.Sprintf("upstream must be an absolute URL, got %q", cfg.Upstream),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, FieldError{
				Field:   "server.upstream",
				Message: fmt.Sprintf("upstream scheme must be http or https, got %q", u.Scheme),
			})
		}
	}

	sortFieldErrors(errs)
	return errs
}

// validatePolicies validates every policy. Deferred requests hold the
// response open, so a leaky bucket's deferred timeout must fit inside the
// server write timeout.
func validatePolicies(policies map[string]PolicyConfig, writeTimeout time.Duration) []FieldError {
	var errs []FieldError

	if len(policies) == 0 {
		return []FieldError{{Field: "policies", Message: "at least one policy is required"}}
	}

	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := policies[name]
		field := "policies." + name

		if !slices.Contains(ratelimit.Strategies, p.Strategy) {
			errs = append(errs, FieldError{
				Field:   field + ".strategy",
				Message: fmt.Sprintf("unknown strategy %q (valid: %s)", p.Strategy, strings.Join(ratelimit.Strategies, ", ")),
			})
			continue
		}

		if err := p.RateLimit().Validate(); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
		}

		if p.InitialTokens != nil && p.Strategy == ratelimit.StrategyTokenBucket {
			if *p.InitialTokens < 0 || *p.InitialTokens > p.MaxTokens {
				errs = append(errs, FieldError{
					Field:   field + ".initial_tokens",
					Message: fmt.Sprintf("initial tokens must be between 0 and max_tokens, got %v", *p.InitialTokens),
				})
			}
		}

		if p.Strategy == ratelimit.StrategyLeakyBucket && writeTimeout > 0 {
			deferred := time.Duration(p.DeferredTimeoutMillis) * time.Millisecond
			if deferred == 0 || deferred >= writeTimeout {
				errs = append(errs, FieldError{
					Field:   field + ".deferred_timeout_millis",
					Message: fmt.Sprintf("deferred timeout must be positive and below server.write_timeout (%s)", writeTimeout),
				})
			}
		}
	}

	return errs
}

// validateRoutes checks that every route names a configured policy.
func validateRoutes(routes []RouteConfig, policies map[string]PolicyConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(routes))

	for i, r := range routes {
		field := fmt.Sprintf("routes[%d]", i)

		if !strings.HasPrefix(r.PathPrefix, "/") {
			errs = append(errs, FieldError{
				Field:   field + ".path_prefix",
				Message: fmt.Sprintf("path prefix must start with '/', got %q", r.PathPrefix),
			})
		}
		if seen[r.PathPrefix] {
			errs = append(errs, FieldError{
				Field:   field + ".path_prefix",
				Message: fmt.Sprintf("duplicate path prefix %q", r.PathPrefix),
			})
		}
		seen[r.PathPrefix] = true

		if _, ok := policies[r.Policy]; !ok {
			errs = append(errs, FieldError{
				Field:   field + ".policy",
				Message: fmt.Sprintf("unknown policy %q", r.Policy),
			})
		}
	}

	return errs
}

// validateKey validates client key extraction.
func validateKey(cfg *KeyConfig) []FieldError {
	if strings.TrimSpace(cfg.Header) == "" {
		return []FieldError{{Field: "key.header", Message: "key header is required"}}
	}
	return nil
}

// validateStorage validates decision statistics storage.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	validBackends := []string{"memory", "sqlite", "redis"}
	if !slices.Contains(validBackends, cfg.Backend) {
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q (valid: %s)", cfg.Backend, strings.Join(validBackends, ", ")),
		})
	}
	if cfg.Retention < 0 {
		errs = append(errs, FieldError{Field: "storage.retention", Message: "retention must not be negative"})
	}

	if cfg.Recorder.Buffer < 1 {
		errs = append(errs, FieldError{Field: "storage.recorder.buffer", Message: "buffer must be at least 1"})
	}
	if cfg.Recorder.BatchSize < 1 {
		errs = append(errs, FieldError{Field: "storage.recorder.batch_size", Message: "batch size must be at least 1"})
	}
	if cfg.Recorder.FlushInterval <= 0 {
		errs = append(errs, FieldError{Field: "storage.recorder.flush_interval", Message: "flush interval must be positive"})
	}

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "path is required for sqlite backend"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (valid: sqlite, sqlite3)", cfg.SQLite.Driver),
			})
		}
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "storage.redis.address", Message: "address is required for redis backend"})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "storage.redis.db", Message: "db must not be negative"})
		}
		if cfg.Redis.TTL < 0 {
			errs = append(errs, FieldError{Field: "storage.redis.ttl", Message: "ttl must not be negative"})
		}
	}

	return errs
}

// validateEviction validates the eviction schedule.
func validateEviction(cfg *EvictionConfig) []FieldError {
	var errs []FieldError

	if !cfg.Disabled {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "eviction.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Schedule, err),
			})
		}
	}
	if cfg.IdleAfter < 0 {
		errs = append(errs, FieldError{Field: "eviction.idle_after", Message: "idle after must not be negative"})
	}

	return errs
}

// validateTelemetry validates logging, metrics, tracing and health settings.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(cfg.Logging.Level)) {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (valid: %s)", cfg.Logging.Level, strings.Join(validLevels, ", ")),
		})
	}
	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, strings.ToLower(cfg.Logging.Format)) {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (valid: %s)", cfg.Logging.Format, strings.Join(validFormats, ", ")),
		})
	}

	for field, path := range map[string]string{
		"telemetry.metrics.path":          cfg.Metrics.Path,
		"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
		"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("path must start with '/', got %q", path)})
		}
	}

	validSamplers := []string{"always", "never", "ratio"}
	if !slices.Contains(validSamplers, cfg.Tracing.Sampler) {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q (valid: %s)", cfg.Tracing.Sampler, strings.Join(validSamplers, ", ")),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: fmt.Sprintf("sample ratio must be between 0 and 1, got %v", cfg.Tracing.SampleRatio),
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}

	sortFieldErrors(errs)
	return errs
}

// sortFieldErrors orders errors by field so map iteration stays stable.
func sortFieldErrors(errs []FieldError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
}
