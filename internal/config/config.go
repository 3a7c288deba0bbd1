// Package config defines the judge console configuration and how it is loaded.
//
// Conventions:
// - Defaults live in New and are overridden by Load.
// - Errors returned by Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects "text" or "json" log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the console HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// BackendURL is the base URL of the scoring backend.
	BackendURL string `koanf:"backend_url"`

	// BackendTimeoutMS bounds every call to the scoring backend.
	BackendTimeoutMS int `koanf:"backend_timeout_ms"`

	// StatePath is the SQLite file holding credentials and sessions.
	StatePath string `koanf:"state_path"`

	// JWTLeewayS tolerates clock skew when checking token expiry.
	JWTLeewayS int `koanf:"jwt_leeway_s"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		BackendURL:       "http://localhost:8000",
		BackendTimeoutMS: 10_000,
		StatePath:        "birdscore.db",
		JWTLeewayS:       30,
	}
}

// BackendTimeout returns BackendTimeoutMS as a duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

// JWTLeeway returns JWTLeewayS as a duration.
func (c *Config) JWTLeeway() time.Duration {
	return time.Duration(c.JWTLeewayS) * time.Second
}
