// Package auth holds the signed-in judge and gates every session operation.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/birdscore/internal/adapters/repository"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/pkg/logger"
	"github.com/okian/birdscore/pkg/metrics"
)

// LoginPath is where an unauthenticated caller is sent.
const LoginPath = "/login"

// ErrAlreadySignedIn is returned by Login while an identity is held. The
// judge must log out before another identity can take the device.
var ErrAlreadySignedIn = fmt.Errorf("already signed in, log out first: %w", model.ErrConflict)

// State is the guard's lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Authenticator exchanges credentials for an identity. Implementations return
// a *model.AuthError for rejected credentials and a *model.TransportError when
// the backend cannot be reached.
type Authenticator interface {
	Authenticate(ctx context.Context, creds model.Credentials) (model.Identity, error)
}

// Guard is the auth state machine. It is safe for concurrent use.
type Guard struct {
	mu       sync.RWMutex
	state    State
	identity model.Identity
	// epoch increases whenever the identity changes. Async work is tagged
	// with the epoch it was issued under.
	epoch uint64

	store  repository.CredentialStore
	authn  Authenticator
	logger logger.Logger
	leeway time.Duration
	now    func() time.Time
}

// New returns an uninitialized Guard.
func New(store repository.CredentialStore, authn Authenticator, opts ...Option) *Guard {
	g := &Guard{
		state:  StateUninitialized,
		store:  store,
		authn:  authn,
		logger: logger.Get().Named("auth"),
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current lifecycle stage.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Initialize restores a persisted identity. It runs once; later calls are
// no-ops. It never touches the network. An expired JWT is purged from storage.
func (g *Guard) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateUninitialized {
		return nil
	}
	g.state = StateUnauthenticated
	metrics.SetAuthenticated(false)

	token, raw, err := g.store.LoadCredentials(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		g.logger.Debug(ctx, "no persisted identity")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	var p model.Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		g.logger.Warn(ctx, "persisted identity is malformed", logger.Error(err))
		return nil
	}
	id := model.Identity{Username: p.Username, Role: p.Role, Token: token}
	if !id.Valid() {
		g.logger.Warn(ctx, "persisted identity is incomplete", logger.String("username", p.Username))
		return nil
	}

	if expired(token, g.now(), g.leeway) {
		if err := g.store.ClearCredentials(ctx); err != nil {
			return fmt.Errorf("purge expired credentials: %w", err)
		}
		metrics.RecordForcedLogout()
		g.logger.Info(ctx, "persisted token expired", logger.String("username", id.Username))
		return nil
	}

	g.identity = id
	g.state = StateAuthenticated
	g.epoch++
	metrics.SetAuthenticated(true)
	g.logger.Info(ctx, "identity restored", logger.String("username", id.Username), logger.String("role", string(id.Role)))
	return nil
}

// Login authenticates creds and, on success, holds and persists the identity.
// A rejected login returns a generic *model.AuthError. Login while signed in
// fails with ErrAlreadySignedIn without contacting the backend.
func (g *Guard) Login(ctx context.Context, creds model.Credentials) (model.Identity, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" {
		metrics.RecordValidationFailure("username")
		return model.Identity{}, model.NewValidationError("username", "is required")
	}
	if creds.Password == "" {
		metrics.RecordValidationFailure("password")
		return model.Identity{}, model.NewValidationError("password", "is required")
	}

	g.mu.RLock()
	state, issued := g.state, g.epoch
	g.mu.RUnlock()
	switch state {
	case StateUninitialized:
		return model.Identity{}, model.ErrNotReady
	case StateAuthenticated:
		metrics.RecordLogin("rejected")
		return model.Identity{}, ErrAlreadySignedIn
	}

	id, err := g.authn.Authenticate(ctx, creds)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrAuth):
			metrics.RecordLogin("rejected")
			g.logger.Info(ctx, "login rejected", logger.String("username", creds.Username))
			return model.Identity{}, &model.AuthError{Reason: model.InvalidCredentials}
		case errors.Is(err, model.ErrTransport):
			metrics.RecordLogin("transport")
			g.logger.Warn(ctx, "login transport failure", logger.Error(err))
			return model.Identity{}, err
		default:
			metrics.RecordLogin("error")
			return model.Identity{}, fmt.Errorf("login: %w", err)
		}
	}
	if !id.Valid() {
		metrics.RecordLogin("rejected")
		g.logger.Warn(ctx, "backend returned an unusable identity", logger.String("username", id.Username))
		return model.Identity{}, &model.AuthError{Reason: model.InvalidCredentials}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != issued {
		metrics.RecordLogin("stale")
		metrics.RecordStaleDiscard("login")
		g.logger.Info(ctx, "discarding stale login result", logger.String("username", id.Username))
		return model.Identity{}, model.ErrStale
	}

	user, err := json.Marshal(id.Persisted())
	if err != nil {
		return model.Identity{}, fmt.Errorf("encode identity: %w", err)
	}
	if err := g.store.SaveCredentials(ctx, id.Token, user); err != nil {
		metrics.RecordLogin("error")
		return model.Identity{}, fmt.Errorf("persist credentials: %w", err)
	}

	g.identity = id
	g.state = StateAuthenticated
	g.epoch++
	metrics.RecordLogin("ok")
	metrics.SetAuthenticated(true)
	g.logger.Info(ctx, "login succeeded", logger.String("username", id.Username), logger.String("role", string(id.Role)))
	return id, nil
}

// Logout drops the identity and every persisted auth value. It is idempotent
// and returns the path of the login entry point. The in-memory identity is
// cleared even when storage fails.
func (g *Guard) Logout(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wasAuthenticated := g.state == StateAuthenticated
	g.clearLocked()
	if err := g.store.ClearCredentials(ctx); err != nil {
		g.logger.Error(ctx, "failed to clear persisted credentials", logger.Error(err))
		return LoginPath, fmt.Errorf("clear credentials: %w", err)
	}
	if wasAuthenticated {
		metrics.RecordLogout()
		g.logger.Info(ctx, "logged out")
	}
	return LoginPath, nil
}

// CurrentIdentity is the synchronous gate predicate.
func (g *Guard) CurrentIdentity() (model.Identity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != StateAuthenticated {
		return model.Identity{}, false
	}
	return g.identity, true
}

// Require returns the identity for a protected operation.
func (g *Guard) Require(ctx context.Context) (model.Identity, error) {
	id, _, err := g.RequireEpoch(ctx)
	return id, err
}

// RequireEpoch is Require plus the epoch the caller must tag async work with.
// A token found to be expired here forces a logout.
func (g *Guard) RequireEpoch(ctx context.Context) (model.Identity, uint64, error) {
	g.mu.RLock()
	state, id, epoch := g.state, g.identity, g.epoch
	g.mu.RUnlock()

	switch state {
	case StateUninitialized:
		return model.Identity{}, 0, model.ErrNotReady
	case StateUnauthenticated:
		return model.Identity{}, epoch, &model.AuthError{Reason: "login required"}
	}
	if expired(id.Token, g.now(), g.leeway) {
		g.ReportAuthFailure(ctx, epoch, &model.AuthError{Reason: "token expired"})
		return model.Identity{}, epoch, &model.AuthError{Reason: "session expired, please log in again"}
	}
	return id, epoch, nil
}

// IsCurrent reports whether epoch is still the live authenticated epoch.
func (g *Guard) IsCurrent(epoch uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == StateAuthenticated && g.epoch == epoch
}

// ReportAuthFailure forces a logout when err is an auth failure raised by a
// call issued under epoch. Failures from an older epoch are ignored. It
// reports whether a logout happened.
func (g *Guard) ReportAuthFailure(ctx context.Context, epoch uint64, err error) bool {
	if !errors.Is(err, model.ErrAuth) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated || g.epoch != epoch {
		return false
	}
	username := g.identity.Username
	g.clearLocked()
	if cerr := g.store.ClearCredentials(ctx); cerr != nil {
		g.logger.Error(ctx, "failed to clear persisted credentials", logger.Error(cerr))
	}
	metrics.RecordForcedLogout()
	g.logger.Warn(ctx, "credential rejected, forcing logout", logger.String("username", username), logger.Error(err))
	return true
}

func (g *Guard) clearLocked() {
	g.identity = model.Identity{}
	g.state = StateUnauthenticated
	g.epoch++
	metrics.SetAuthenticated(false)
}
