package config

import (
	"fmt"
	"sync/atomic"
)

// current is the process-wide configuration used by the gateway and by
// hot reload.
var current atomic.Pointer[Config]

// GetConfig returns the active configuration, or nil before SetConfig.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig installs cfg as the active configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig loads path with environment overrides and installs the
// result. On failure the active configuration is left untouched.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}

	SetConfig(cfg)
	return cfg, nil
}

// MustGetConfig returns the active configuration and panics when none has
// been installed.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not installed: call SetConfig first")
	}
	return cfg
}
