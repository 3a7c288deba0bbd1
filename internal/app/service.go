// Package service wires the auth guard, the session manager, durable storage
// and the scoring backend client into the one object the HTTP API and the
// CLI talk to.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/birdscore/internal/adapters/backend"
	"github.com/okian/birdscore/internal/adapters/repository"
	"github.com/okian/birdscore/internal/auth"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/internal/domain/scoring"
	"github.com/okian/birdscore/internal/domain/session"
	"github.com/okian/birdscore/pkg/logger"
	"github.com/okian/birdscore/pkg/metrics"
)

// ErrNotStarted is returned by every operation before Start.
var ErrNotStarted = errors.New("service not started")

// Backend is the scoring backend as the service uses it.
type Backend interface {
	auth.Authenticator
	session.Submitter
	Register(ctx context.Context, reg model.Registration) error
	FetchSessionSummary(ctx context.Context, token, sessionID string) (backend.SessionSummary, error)
	ListUsers(ctx context.Context, token string) ([]model.User, error)
	DeleteUser(ctx context.Context, token, id string) error
}

// Service implements the API and CLI dependencies for the judge console.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   repository.Store
	backend Backend
	guard   *auth.Guard
	manager *session.Manager

	// Configuration
	statePath      string
	backendURL     string
	backendTimeout time.Duration
	jwtLeeway      time.Duration
	aggregator     scoring.Aggregator

	// State
	started   bool
	ownsStore bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStatePath sets the SQLite file holding credentials and sessions.
func WithStatePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.statePath = path
		}
	}
}

// WithBackendURL sets the scoring backend base url.
func WithBackendURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.backendURL = u
		}
	}
}

// WithBackendTimeout bounds every scoring backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.backendTimeout = d
		}
	}
}

// WithJWTLeeway sets the clock skew tolerated on token expiry.
func WithJWTLeeway(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.jwtLeeway = d
		}
	}
}

// WithStore uses store instead of opening the SQLite file. The caller keeps
// ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithBackend uses b instead of an HTTP client built from the backend url.
func WithBackend(b Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithAggregator replaces the default total-score aggregator.
func WithAggregator(a scoring.Aggregator) Option {
	return func(s *Service) {
		if a != nil {
			s.aggregator = a
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		statePath:      "birdscore.db",
		backendURL:     "http://localhost:8000",
		backendTimeout: 10 * time.Second,
		jwtLeeway:      30 * time.Second,
		aggregator:     scoring.TotalScoreAggregator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens storage, builds the components and restores any persisted
// identity. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting judge console service...")

	if s.store == nil {
		st, err := repository.OpenSQLite(ctx, s.statePath)
		if err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		s.store = st
		s.ownsStore = true
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.statePath))
	}
	if s.backend == nil {
		c, err := backend.New(s.backendURL,
			backend.WithTimeout(s.backendTimeout),
			backend.WithLogger(s.logger.Named("backend")),
		)
		if err != nil {
			s.closeStoreLocked(ctx)
			return fmt.Errorf("scoring backend: %w", err)
		}
		s.backend = c
	}

	s.guard = auth.New(s.store, s.backend,
		auth.WithLeeway(s.jwtLeeway),
		auth.WithLogger(s.logger.Named("auth")),
	)
	s.manager = session.NewManager(s.store,
		session.WithSubmitter(s.backend),
		session.WithGate(s.guard),
		session.WithAggregator(s.aggregator),
		session.WithLogger(s.logger.Named("session")),
	)

	if err := s.guard.Initialize(ctx); err != nil {
		s.closeStoreLocked(ctx)
		return fmt.Errorf("initialize auth: %w", err)
	}
	if n, err := s.store.CountOpen(ctx); err == nil {
		metrics.UpdateOpenSessions(n)
	}

	s.started = true
	s.logger.Info(ctx, "judge console service started",
		logger.String("backend", s.backendURL),
		logger.String("auth_state", s.guard.State().String()),
	)
	return nil
}

// Stop releases storage. In-memory identity is dropped; the persisted one
// survives for the next Start.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping judge console service...")
	s.closeStoreLocked(ctx)
	s.started = false
	s.logger.Info(ctx, "judge console service stopped")
}

func (s *Service) closeStoreLocked(ctx context.Context) {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "failed to close store", logger.Error(err))
	}
	s.store = nil
	s.ownsStore = false
}

func (s *Service) components() (*auth.Guard, *session.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.guard, s.manager, nil
}

// Login signs a judge in.
func (s *Service) Login(ctx context.Context, username, password string) (model.Identity, error) {
	g, _, err := s.components()
	if err != nil {
		return model.Identity{}, err
	}
	return g.Login(ctx, model.Credentials{Username: username, Password: password})
}

// Logout signs out and returns where the caller should go next.
func (s *Service) Logout(ctx context.Context) (string, error) {
	g, _, err := s.components()
	if err != nil {
		return "", err
	}
	return g.Logout(ctx)
}

// Register creates a backend account. It does not sign the new account in.
func (s *Service) Register(ctx context.Context, reg model.Registration) error {
	if _, _, err := s.components(); err != nil {
		return err
	}
	reg.Username = strings.TrimSpace(reg.Username)
	if reg.Username == "" {
		metrics.RecordValidationFailure("username")
		return model.NewValidationError("username", "is required")
	}
	if reg.Password == "" {
		metrics.RecordValidationFailure("password")
		return model.NewValidationError("password", "is required")
	}
	if reg.Role == "" {
		reg.Role = model.RoleJudge
	}
	role, err := model.ParseRole(string(reg.Role))
	if err != nil {
		metrics.RecordValidationFailure("role")
		return model.NewValidationError("role", err.Error())
	}
	reg.Role = role
	if err := s.backend.Register(ctx, reg); err != nil {
		return err
	}
	s.logger.Info(ctx, "account registered", logger.String("username", reg.Username), logger.String("role", string(role)))
	return nil
}

// CurrentIdentity returns the signed-in judge or an auth error.
func (s *Service) CurrentIdentity(ctx context.Context) (model.Identity, error) {
	g, _, err := s.components()
	if err != nil {
		return model.Identity{}, err
	}
	return g.Require(ctx)
}

// CreateSession starts a session owned by the signed-in judge.
func (s *Service) CreateSession(ctx context.Context, matchName, cageNumber string) (model.SessionSnapshot, error) {
	g, m, err := s.components()
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	id, err := g.Require(ctx)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return m.CreateSession(ctx, matchName, cageNumber, id)
}

// AdvanceRound records a completed round under the identity epoch current
// at the time of the call.
func (s *Service) AdvanceRound(ctx context.Context, sessionID string, roundNo int, score json.RawMessage) (model.SessionSnapshot, error) {
	g, m, err := s.components()
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	id, epoch, err := g.RequireEpoch(ctx)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return m.AdvanceRound(ctx, id, epoch, sessionID, roundNo, score)
}

// Session returns one session visible to the signed-in judge.
func (s *Service) Session(ctx context.Context, sessionID string) (model.SessionSnapshot, error) {
	g, m, err := s.components()
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	id, err := g.Require(ctx)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return m.Snapshot(ctx, id, sessionID)
}

// ListSessions returns the signed-in judge's history, or everyone's for an admin.
func (s *Service) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.SessionSnapshot, error) {
	g, m, err := s.components()
	if err != nil {
		return nil, err
	}
	id, err := g.Require(ctx)
	if err != nil {
		return nil, err
	}
	return m.List(ctx, id, f)
}

// Result aggregates a completed session locally.
func (s *Service) Result(ctx context.Context, sessionID string) (model.SessionResult, error) {
	g, m, err := s.components()
	if err != nil {
		return model.SessionResult{}, err
	}
	id, err := g.Require(ctx)
	if err != nil {
		return model.SessionResult{}, err
	}
	return m.Result(ctx, id, sessionID)
}

// BackendSummary fetches the backend's own aggregate for a session. The
// session must be one the judge may see locally; a foreign id never leaves
// the device.
func (s *Service) BackendSummary(ctx context.Context, sessionID string) (backend.SessionSummary, error) {
	g, m, err := s.components()
	if err != nil {
		return backend.SessionSummary{}, err
	}
	id, epoch, err := g.RequireEpoch(ctx)
	if err != nil {
		return backend.SessionSummary{}, err
	}
	if _, err := m.Snapshot(ctx, id, sessionID); err != nil {
		return backend.SessionSummary{}, err
	}
	sum, err := s.backend.FetchSessionSummary(ctx, id.Token, sessionID)
	if err != nil {
		g.ReportAuthFailure(ctx, epoch, err)
		return backend.SessionSummary{}, err
	}
	if !g.IsCurrent(epoch) {
		metrics.RecordStaleDiscard("session_summary")
		return backend.SessionSummary{}, model.ErrStale
	}
	return sum, nil
}

// requireAdmin is RequireEpoch for the user management calls. Judges are
// refused locally.
func (s *Service) requireAdmin(ctx context.Context) (*auth.Guard, model.Identity, uint64, error) {
	g, _, err := s.components()
	if err != nil {
		return nil, model.Identity{}, 0, err
	}
	id, epoch, err := g.RequireEpoch(ctx)
	if err != nil {
		return nil, model.Identity{}, 0, err
	}
	if !id.IsAdmin() {
		return nil, model.Identity{}, 0, fmt.Errorf("user management is admin only: %w", model.ErrForbidden)
	}
	return g, id, epoch, nil
}

// ListUsers returns every backend account. Admin only.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	g, id, epoch, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.backend.ListUsers(ctx, id.Token)
	if err != nil {
		g.ReportAuthFailure(ctx, epoch, err)
		return nil, err
	}
	if !g.IsCurrent(epoch) {
		metrics.RecordStaleDiscard("list_users")
		return nil, model.ErrStale
	}
	return users, nil
}

// DeleteUser removes a backend account. Admin only.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	g, id, epoch, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		metrics.RecordValidationFailure("userId")
		return model.NewValidationError("userId", "is required")
	}
	if err := s.backend.DeleteUser(ctx, id.Token, userID); err != nil {
		g.ReportAuthFailure(ctx, epoch, err)
		return err
	}
	s.logger.Info(ctx, "account deleted", logger.String("user_id", userID), logger.String("by", id.Username))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started": s.started,
		"backend": s.backendURL,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	stats["authState"] = s.guard.State().String()
	if id, ok := s.guard.CurrentIdentity(); ok {
		stats["username"] = id.Username
		stats["role"] = string(id.Role)
	}
	if n, err := s.store.CountOpen(ctx); err == nil {
		stats["openSessions"] = n
		metrics.UpdateOpenSessions(n)
	}
	return stats
}
