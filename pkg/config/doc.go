// Package config provides configuration management for floodgate.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("floodgate.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("floodgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention FLOODGATE_SECTION_FIELD.
// For example:
//
//   - FLOODGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - FLOODGATE_STORAGE_BACKEND overrides storage.backend
//   - FLOODGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Policies are only configured in the file.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher reloads the file when it changes and hands the new configuration
// to a callback. Policies are built once at startup, so the gateway only
// applies settings that are safe to change live (the log level) and logs
// that a restart is needed for the rest.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	  upstream: "http://localhost:9000"
//
//	policies:
//	  api:
//	    strategy: token_bucket
//	    max_tokens: 50
//	    refill_rate_per_second: 10
//	  uploads:
//	    strategy: leaky_bucket
//	    bucket_capacity: 20
//	    leak_rate_per_second: 2
//	    tick_interval_millis: 100
//	    deferred_timeout_millis: 10000
//
//	routes:
//	  - path_prefix: /api/
//	    policy: api
//	  - path_prefix: /upload
//	    policy: uploads
//
//	storage:
//	  enabled: true
//	  backend: sqlite
//
// # Thread Safety
//
// The active configuration is held in an atomic pointer, so GetConfig may
// be called concurrently with ReloadConfig.
package config
