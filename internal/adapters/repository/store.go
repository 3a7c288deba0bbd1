// Package repository persists judge credentials and competition sessions.
package repository

import (
	"context"

	"github.com/okian/birdscore/internal/domain/model"
)

// CredentialStore is durable device-local storage for the signed-in judge.
// It holds exactly two values: the access token and the serialized user.
type CredentialStore interface {
	// LoadCredentials returns ErrNotFound when either value is absent.
	LoadCredentials(ctx context.Context) (token string, user []byte, err error)
	SaveCredentials(ctx context.Context, token string, user []byte) error
	// ClearCredentials removes both values. Clearing an empty store is not an error.
	ClearCredentials(ctx context.Context) error
}

// SessionStore keeps competition sessions keyed by session id.
type SessionStore interface {
	// Create inserts a new session. Returns ErrAlreadyExists on id collision.
	Create(ctx context.Context, s *model.CompetitionSession) error

	// Get returns a copy of the session. Returns ErrNotFound if unknown.
	Get(ctx context.Context, sessionID string) (*model.CompetitionSession, error)

	// Update replaces the session header and appends new rounds, but only if
	// the stored version equals expectVersion. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, s *model.CompetitionSession, expectVersion int64) error

	// List returns sessions newest first.
	List(ctx context.Context, f model.SessionFilter) ([]*model.CompetitionSession, error)

	// CountOpen returns the number of sessions not yet completed.
	CountOpen(ctx context.Context) (int, error)
}

// Store is both stores over one backing database.
type Store interface {
	CredentialStore
	SessionStore
	Close() error
}
