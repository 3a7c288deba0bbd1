package session

import (
	"time"

	"github.com/okian/birdscore/internal/domain/scoring"
	"github.com/okian/birdscore/internal/domain/sessionid"
	"github.com/okian/birdscore/pkg/logger"
)

// Option configures a Manager.
type Option func(*Manager)

// WithSubmitter hands every round to the scoring backend before it is committed.
func WithSubmitter(s Submitter) Option {
	return func(m *Manager) { m.submitter = s }
}

// WithGate ties round submissions to the auth guard's epoch.
func WithGate(g Gate) Option {
	return func(m *Manager) { m.gate = g }
}

// WithAggregator replaces the default total-score aggregator.
func WithAggregator(a scoring.Aggregator) Option {
	return func(m *Manager) {
		if a != nil {
			m.agg = a
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(g *sessionid.Generator) Option {
	return func(m *Manager) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
