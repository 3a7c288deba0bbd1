package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/okian/birdscore/internal/domain/model"
)

// MemoryStore is a process-local Store. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	token    string
	user     []byte
	sessions map[string]*model.CompetitionSession
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.CompetitionSession)}
}

// LoadCredentials implements CredentialStore.
func (m *MemoryStore) LoadCredentials(ctx context.Context) (string, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return "", nil, err
	}
	if m.token == "" || len(m.user) == 0 {
		return "", nil, ErrNotFound
	}
	return m.token, append([]byte(nil), m.user...), nil
}

// SaveCredentials implements CredentialStore.
func (m *MemoryStore) SaveCredentials(ctx context.Context, token string, user []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.token = token
	m.user = append([]byte(nil), user...)
	return nil
}

// ClearCredentials implements CredentialStore.
func (m *MemoryStore) ClearCredentials(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.token, m.user = "", nil
	return nil
}

// Create implements SessionStore.
func (m *MemoryStore) Create(ctx context.Context, s *model.CompetitionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.sessions[s.SessionID]; ok {
		return ErrAlreadyExists
	}
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

// Get implements SessionStore.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*model.CompetitionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Update implements SessionStore.
func (m *MemoryStore) Update(ctx context.Context, s *model.CompetitionSession, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	cur, ok := m.sessions[s.SessionID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectVersion {
		return ErrVersionConflict
	}
	next := s.Clone()
	// rounds are append-only; stored rounds win over the caller's copy
	stored := cur.Clone().Rounds
	have := make(map[int]bool, len(stored))
	for _, r := range stored {
		have[r.RoundNo] = true
	}
	for _, r := range next.Rounds {
		if !have[r.RoundNo] {
			stored = append(stored, r)
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].RoundNo < stored[j].RoundNo })
	next.Rounds = stored
	next.CreatedAt = cur.CreatedAt
	next.MatchName, next.CageNumber, next.Owner = cur.MatchName, cur.CageNumber, cur.Owner
	m.sessions[s.SessionID] = next
	return nil
}

// List implements SessionStore.
func (m *MemoryStore) List(ctx context.Context, f model.SessionFilter) ([]*model.CompetitionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	match := strings.ToLower(f.MatchName)
	cage := strings.ToUpper(strings.TrimSpace(f.CageNumber))

	out := make([]*model.CompetitionSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.Owner != "" && s.Owner != f.Owner {
			continue
		}
		if match != "" && !strings.Contains(strings.ToLower(s.MatchName), match) {
			continue
		}
		if cage != "" && s.CageNumber != cage {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID > out[j].SessionID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountOpen implements SessionStore.
func (m *MemoryStore) CountOpen(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, s := range m.sessions {
		if !s.IsCompleted() {
			n++
		}
	}
	return n, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrClosed
	}
	return nil
}
