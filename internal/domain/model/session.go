package model

import (
	"encoding/json"
	"time"
)

// TotalRounds is the fixed number of rounds in every competition session.
const TotalRounds = 4

// Status is the lifecycle stage of a session. It only moves forward.
type Status string

const (
	StatusSetup     Status = "setup"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusSetup:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// CanMoveTo reports whether next is a forward (or same) transition.
func (s Status) CanMoveTo(next Status) bool {
	return next.rank() >= 0 && next.rank() >= s.rank()
}

// Round is one scored round within a session.
type Round struct {
	RoundNo     int             `json:"round_no"`
	Score       json.RawMessage `json:"score"`
	SubmittedAt time.Time       `json:"submitted_at"`
	SubmittedBy string          `json:"submitted_by"`
}

// CompetitionSession is one judged contest for one cage entry.
type CompetitionSession struct {
	SessionID    string
	MatchName    string
	CageNumber   string
	Owner        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TotalRounds  int
	CurrentRound int
	Status       Status
	Rounds       []Round

	// Version increases on every committed mutation. Async work issued
	// against an older version is discarded.
	Version int64
}

// IsCompleted reports whether every round has been recorded.
func (s *CompetitionSession) IsCompleted() bool { return s.Status == StatusCompleted }

// CanAdvance reports whether roundNo is the next acceptable round. Recording
// any round leaves the session active or completed, so a session whose status
// cannot move to active takes no more rounds.
func (s *CompetitionSession) CanAdvance(roundNo int) bool {
	return s.Status.CanMoveTo(StatusActive) && roundNo == s.CurrentRound && len(s.Rounds) == s.CurrentRound-1
}

// Clone returns a deep copy, round payloads included.
func (s *CompetitionSession) Clone() *CompetitionSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		c.Rounds[i] = r
		if r.Score != nil {
			c.Rounds[i].Score = append(json.RawMessage(nil), r.Score...)
		}
	}
	return &c
}

// SessionSnapshot is an immutable, JSON-friendly view of a session at one
// point in time.
type SessionSnapshot struct {
	SessionID    string    `json:"session_id"`
	MatchName    string    `json:"match_name"`
	CageNumber   string    `json:"cage_number"`
	Owner        string    `json:"owner"`
	CreatedAt    time.Time `json:"created_at"`
	TotalRounds  int       `json:"total_rounds"`
	CurrentRound int       `json:"current_round"`
	Status       Status    `json:"status"`
	Rounds       []Round   `json:"rounds"`
	Version      int64     `json:"version"`
}

// Snapshot copies s into a SessionSnapshot.
func (s *CompetitionSession) Snapshot() SessionSnapshot {
	c := s.Clone()
	return SessionSnapshot{
		SessionID:    c.SessionID,
		MatchName:    c.MatchName,
		CageNumber:   c.CageNumber,
		Owner:        c.Owner,
		CreatedAt:    c.CreatedAt,
		TotalRounds:  c.TotalRounds,
		CurrentRound: c.CurrentRound,
		Status:       c.Status,
		Rounds:       c.Rounds,
		Version:      c.Version,
	}
}

// RoundSubmission is the per-round payload handed to the scoring backend.
type RoundSubmission struct {
	SessionID   string          `json:"session_id"`
	MatchName   string          `json:"match_name"`
	CageNumber  string          `json:"cage_number"`
	RoundNo     int             `json:"round_no"`
	Score       json.RawMessage `json:"score"`
	SubmittedBy string          `json:"submitted_by"`
}

// SessionResult aggregates a completed session.
type SessionResult struct {
	SessionID  string          `json:"session_id"`
	MatchName  string          `json:"match_name"`
	CageNumber string          `json:"cage_number"`
	Rounds     []Round         `json:"rounds"`
	Aggregate  json.RawMessage `json:"aggregate"`
}

// SessionFilter narrows history listings.
type SessionFilter struct {
	// Owner restricts to one judge; empty means every owner.
	Owner string
	// MatchName is a case-insensitive substring match.
	MatchName string
	// CageNumber is an exact match after normalization.
	CageNumber string
	Limit      int
}
