// Package session owns the competition session lifecycle: creation, round
// progression and result aggregation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/birdscore/internal/adapters/repository"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/internal/domain/scoring"
	"github.com/okian/birdscore/internal/domain/sessionid"
	"github.com/okian/birdscore/pkg/logger"
	"github.com/okian/birdscore/pkg/metrics"
)

// maxIDAttempts bounds retries when a generated id collides locally.
const maxIDAttempts = 3

// Submitter hands a completed round to the scoring backend.
type Submitter interface {
	SubmitRound(ctx context.Context, token string, sub model.RoundSubmission) error
}

// Gate is the part of the auth guard the manager needs to check a caller's
// epoch and to report a rejected credential.
type Gate interface {
	IsCurrent(epoch uint64) bool
	ReportAuthFailure(ctx context.Context, epoch uint64, err error) bool
}

// Manager creates sessions and advances their rounds. At most one mutating
// call runs at a time; a concurrent one fails fast with model.ErrBusy.
type Manager struct {
	store     repository.SessionStore
	ids       *sessionid.Generator
	submitter Submitter
	gate      Gate
	agg       scoring.Aggregator
	logger    logger.Logger
	now       func() time.Time

	inflight sync.Mutex
}

// NewManager returns a Manager persisting into store.
func NewManager(store repository.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ids:    sessionid.New(),
		agg:    scoring.TotalScoreAggregator{},
		logger: logger.Get().Named("session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession validates input, mints a session id and persists a new
// session in the setup state.
func (m *Manager) CreateSession(ctx context.Context, matchName, cageNumber string, identity model.Identity) (model.SessionSnapshot, error) {
	if !m.inflight.TryLock() {
		metrics.RecordBusyRejection()
		return model.SessionSnapshot{}, model.ErrBusy
	}
	defer m.inflight.Unlock()

	if !identity.Valid() {
		return model.SessionSnapshot{}, &model.AuthError{Reason: "login required"}
	}
	matchName = strings.TrimSpace(matchName)
	if matchName == "" {
		metrics.RecordValidationFailure("matchName")
		return model.SessionSnapshot{}, model.NewValidationError("matchName", "is required")
	}
	cage := sessionid.NormalizeCage(cageNumber)
	if cage == "" {
		metrics.RecordValidationFailure("cageNumber")
		return model.SessionSnapshot{}, model.NewValidationError("cageNumber", "is required")
	}

	for attempt := 1; ; attempt++ {
		now := m.now().UTC()
		id, err := m.ids.Next(cage, now)
		if err != nil {
			return model.SessionSnapshot{}, err
		}
		s := &model.CompetitionSession{
			SessionID:    id,
			MatchName:    matchName,
			CageNumber:   cage,
			Owner:        identity.Username,
			CreatedAt:    now,
			UpdatedAt:    now,
			TotalRounds:  model.TotalRounds,
			CurrentRound: 1,
			Status:       model.StatusSetup,
			Rounds:       []model.Round{},
		}
		err = m.store.Create(ctx, s)
		if errors.Is(err, repository.ErrAlreadyExists) && attempt < maxIDAttempts {
			m.logger.Warn(ctx, "session id collision, retrying", logger.String("session_id", id))
			continue
		}
		if err != nil {
			return model.SessionSnapshot{}, fmt.Errorf("create session: %w", err)
		}

		metrics.RecordSessionCreated()
		m.refreshOpen(ctx)
		m.logger.Info(ctx, "session created",
			logger.String("session_id", id),
			logger.String("owner", identity.Username))
		return s.Snapshot(), nil
	}
}

// AdvanceRound records completedRoundNo with its score. The round must be
// the session's current round. Round 4 completes the session. epoch is the
// guard epoch identity was read under; a caller whose epoch has ended is
// refused before anything leaves the device.
//
// The round is handed to the backend before it is committed locally. A
// transport or auth failure leaves the session untouched. A round the backend
// reports as already recorded is committed, so a retry after a failed local
// commit converges. A result that arrives after the identity or session moved
// on is discarded.
func (m *Manager) AdvanceRound(ctx context.Context, identity model.Identity, epoch uint64, sessionID string, completedRoundNo int, score json.RawMessage) (model.SessionSnapshot, error) {
	if !m.inflight.TryLock() {
		metrics.RecordBusyRejection()
		return model.SessionSnapshot{}, model.ErrBusy
	}
	defer m.inflight.Unlock()

	if !identity.Valid() || (m.gate != nil && !m.gate.IsCurrent(epoch)) {
		return model.SessionSnapshot{}, &model.AuthError{Reason: "login required"}
	}
	if len(score) == 0 || !json.Valid(score) {
		metrics.RecordValidationFailure("score")
		return model.SessionSnapshot{}, model.NewValidationError("score", "must be a JSON value")
	}

	s, err := m.load(ctx, identity, sessionID)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	if !s.CanAdvance(completedRoundNo) {
		metrics.RecordSequenceViolation()
		serr := &model.SequenceError{
			SessionID:    s.SessionID,
			Expected:     s.CurrentRound,
			Got:          completedRoundNo,
			SessionState: s.Status,
		}
		m.logger.Error(ctx, "round out of sequence", logger.Error(serr))
		return model.SessionSnapshot{}, serr
	}

	version := s.Version

	if m.submitter != nil {
		sub := model.RoundSubmission{
			SessionID:   s.SessionID,
			MatchName:   s.MatchName,
			CageNumber:  s.CageNumber,
			RoundNo:     completedRoundNo,
			Score:       score,
			SubmittedBy: identity.Username,
		}
		err = m.submitter.SubmitRound(ctx, identity.Token, sub)
		if errors.Is(err, model.ErrRoundRecorded) {
			m.logger.Info(ctx, "backend already holds round; committing locally",
				logger.String("session_id", s.SessionID),
				logger.Int("round", completedRoundNo))
			err = nil
		}
		if err != nil {
			if m.gate != nil && errors.Is(err, model.ErrAuth) {
				m.gate.ReportAuthFailure(ctx, epoch, err)
			}
			m.logger.Warn(ctx, "round submission failed",
				logger.String("session_id", s.SessionID),
				logger.Int("round", completedRoundNo),
				logger.Error(err))
			return model.SessionSnapshot{}, err
		}
	}

	if m.gate != nil && !m.gate.IsCurrent(epoch) {
		metrics.RecordStaleDiscard("advance_round")
		m.logger.Info(ctx, "identity changed while round was in flight; discarding",
			logger.String("session_id", s.SessionID))
		return model.SessionSnapshot{}, model.ErrStale
	}

	next := s.Clone()
	now := m.now().UTC()
	next.Rounds = append(next.Rounds, model.Round{
		RoundNo:     completedRoundNo,
		Score:       append(json.RawMessage(nil), score...),
		SubmittedAt: now,
		SubmittedBy: identity.Username,
	})
	if completedRoundNo == next.TotalRounds {
		next.Status = model.StatusCompleted
	} else {
		next.CurrentRound++
		next.Status = model.StatusActive
	}
	next.Version = version + 1
	next.UpdatedAt = now

	if err := m.store.Update(ctx, next, version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			metrics.RecordStaleDiscard("advance_round")
			return model.SessionSnapshot{}, fmt.Errorf("%w: %s changed", model.ErrStale, s.SessionID)
		}
		return model.SessionSnapshot{}, fmt.Errorf("commit round: %w", err)
	}

	metrics.RecordRoundAdvanced(strconv.Itoa(completedRoundNo))
	fields := []logger.Field{
		logger.String("session_id", next.SessionID),
		logger.Int("round", completedRoundNo),
		logger.String("status", string(next.Status)),
	}
	if next.IsCompleted() {
		metrics.RecordSessionCompleted()
		m.refreshOpen(ctx)
		m.logger.Info(ctx, "session completed", fields...)
	} else {
		m.logger.Debug(ctx, "round recorded", fields...)
	}
	return next.Snapshot(), nil
}

// Snapshot returns a deep copy of a session identity may see.
func (m *Manager) Snapshot(ctx context.Context, identity model.Identity, sessionID string) (model.SessionSnapshot, error) {
	s, err := m.load(ctx, identity, sessionID)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return s.Snapshot(), nil
}

// Result aggregates a completed session.
func (m *Manager) Result(ctx context.Context, identity model.Identity, sessionID string) (model.SessionResult, error) {
	s, err := m.load(ctx, identity, sessionID)
	if err != nil {
		return model.SessionResult{}, err
	}
	return scoring.Result(ctx, s, m.agg)
}

// List returns identity's sessions newest first. Admins see every judge's
// sessions and may narrow by owner.
func (m *Manager) List(ctx context.Context, identity model.Identity, f model.SessionFilter) ([]model.SessionSnapshot, error) {
	if !identity.Valid() {
		return nil, &model.AuthError{Reason: "login required"}
	}
	if !identity.IsAdmin() {
		f.Owner = identity.Username
	}
	sessions, err := m.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, identity model.Identity, sessionID string) (*model.CompetitionSession, error) {
	if !identity.Valid() {
		return nil, &model.AuthError{Reason: "login required"}
	}
	if !sessionid.Valid(sessionID) {
		metrics.RecordValidationFailure("sessionId")
		return nil, model.NewValidationError("sessionId", "malformed")
	}
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if s.Owner != identity.Username && !identity.IsAdmin() {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrForbidden)
	}
	return s, nil
}

func (m *Manager) refreshOpen(ctx context.Context) {
	n, err := m.store.CountOpen(ctx)
	if err != nil {
		m.logger.Warn(ctx, "count open sessions", logger.Error(err))
		return
	}
	metrics.UpdateOpenSessions(n)
}
