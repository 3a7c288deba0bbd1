package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that steer loading itself.
const (
	envPrefix  = "BIRDSCORE_"
	envConfig  = "BIRDSCORE_CONFIG"
	envDotFile = "BIRDSCORE_ENV_FILE"
	defaultDot = ".env"
)

// Load builds a Config by layering defaults, dotenv, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if BIRDSCORE_CONFIG is set
//  3. env (prefix BIRDSCORE_), after merging a dotenv file into the process
//     environment. Variables already set win over the dotenv file.
func Load(_ context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, fmt.Errorf("%w: dotenv: %w", ErrLoadConfig, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// BIRDSCORE_BACKEND_URL -> backend_url
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.StatePath) == "":
		return fmt.Errorf("%w: state_path must not be empty", ErrInvalidConfig)
	case c.BackendTimeoutMS <= 0:
		return fmt.Errorf("%w: backend_timeout_ms must be positive", ErrInvalidConfig)
	case c.JWTLeewayS < 0:
		return fmt.Errorf("%w: jwt_leeway_s must not be negative", ErrInvalidConfig)
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: backend_url must be an absolute http(s) URL", ErrInvalidConfig)
	}
	return nil
}

// loadDotenv merges an env file into the process environment. An explicit
// BIRDSCORE_ENV_FILE must exist; the implicit .env is optional.
func loadDotenv() error {
	if path := os.Getenv(envDotFile); path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(defaultDot); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
