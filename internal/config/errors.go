package config

import "errors"

// ErrLoadConfig wraps failures reading a config source; ErrInvalidConfig
// wraps values that fail Validate.
var (
	ErrLoadConfig    = errors.New("load birdscore config")
	ErrInvalidConfig = errors.New("invalid birdscore config")
)
