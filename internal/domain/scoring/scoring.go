// Package scoring turns a completed session's rounds into a SessionResult.
//
// The rubric itself is not defined here. An Aggregator is pluggable; the
// default sums a numeric total_score from each round payload, which is what
// the scoring backend reports in its session summary.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/birdscore/internal/domain/model"
)

// Sentinel kinds for aggregation errors.
var (
	ErrIncomplete = errors.New("session is not completed")
	ErrGap        = errors.New("round sequence has gaps")
	ErrBadScore   = errors.New("round score payload not understood")
)

// Aggregator folds an ordered, gap-free list of rounds into one payload.
type Aggregator interface {
	Aggregate(ctx context.Context, rounds []model.Round) (json.RawMessage, error)
}

// AggregatorFunc adapts a function to Aggregator.
type AggregatorFunc func(ctx context.Context, rounds []model.Round) (json.RawMessage, error)

// Aggregate calls f.
func (f AggregatorFunc) Aggregate(ctx context.Context, rounds []model.Round) (json.RawMessage, error) {
	return f(ctx, rounds)
}

// Result checks the session is complete and gap-free, then aggregates it.
func Result(ctx context.Context, s *model.CompetitionSession, agg Aggregator) (model.SessionResult, error) {
	if s == nil || !s.IsCompleted() {
		return model.SessionResult{}, ErrIncomplete
	}
	if err := CheckSequence(s.Rounds, s.TotalRounds); err != nil {
		return model.SessionResult{}, err
	}
	c := s.Clone()
	out, err := agg.Aggregate(ctx, c.Rounds)
	if err != nil {
		return model.SessionResult{}, fmt.Errorf("aggregate %s: %w", s.SessionID, err)
	}
	return model.SessionResult{
		SessionID:  c.SessionID,
		MatchName:  c.MatchName,
		CageNumber: c.CageNumber,
		Rounds:     c.Rounds,
		Aggregate:  out,
	}, nil
}

// CheckSequence verifies rounds are numbered 1..total with no gaps.
func CheckSequence(rounds []model.Round, total int) error {
	if len(rounds) != total {
		return fmt.Errorf("%w: have %d of %d rounds", ErrGap, len(rounds), total)
	}
	for i, r := range rounds {
		if r.RoundNo != i+1 {
			return fmt.Errorf("%w: position %d holds round %d", ErrGap, i+1, r.RoundNo)
		}
	}
	return nil
}

// TotalScore is the default aggregate shape.
type TotalScore struct {
	TotalScore  float64   `json:"total_score"`
	RoundScores []float64 `json:"round_scores"`
}

// TotalScoreAggregator sums total_score across rounds. A round payload may
// be a bare number or an object with a numeric total_score.
type TotalScoreAggregator struct{}

// Aggregate implements Aggregator.
func (TotalScoreAggregator) Aggregate(ctx context.Context, rounds []model.Round) (json.RawMessage, error) {
	out := TotalScore{RoundScores: make([]float64, 0, len(rounds))}
	for _, r := range rounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := roundTotal(r.Score)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", r.RoundNo, err)
		}
		out.RoundScores = append(out.RoundScores, v)
		out.TotalScore += v
	}
	return json.Marshal(out)
}

func roundTotal(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, ErrBadScore
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var obj struct {
		TotalScore *float64 `json:"total_score"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.TotalScore == nil {
		return 0, ErrBadScore
	}
	return *obj.TotalScore, nil
}
