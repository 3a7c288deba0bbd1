package auth

import (
	"time"

	"github.com/okian/birdscore/pkg/logger"
)

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard's logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithLeeway tolerates clock skew when checking token expiry.
func WithLeeway(d time.Duration) Option {
	return func(g *Guard) {
		if d >= 0 {
			g.leeway = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}
