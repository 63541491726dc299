package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxHistory bounds the per-user audit trail; oldest entries are trimmed.
const MaxHistory = 100

// Factor identifies which sub-score a delta targets.
type Factor string

const (
	FactorReporting    Factor = "reporting_accuracy"
	FactorConfirmation Factor = "confirmation_accuracy"
	FactorDispute      Factor = "dispute_accuracy"
	FactorLocation     Factor = "location_accuracy"
	FactorFrequency    Factor = "contribution_frequency"
	FactorEndorsement  Factor = "community_endorsement"
	FactorPenalty      Factor = "penalty_score"
)

// Change is one audited mutation of a trust score.
type Change struct {
	ID     uuid.UUID `json:"id"`
	Delta  float64   `json:"delta"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Score is a user's reputation record.
type Score struct {
	UserID        string    `json:"user_id"`
	Score         float64   `json:"score"`
	PreviousScore float64   `json:"previous_score"`
	LastUpdated   time.Time `json:"last_updated"`
	Factors       Factors   `json:"factors"`
	History       []Change  `json:"history,omitempty"`
}

// Backend is the row contract the store persists through. A missing user is
// (nil, nil), not an error.
type Backend interface {
	GetTrustScore(ctx context.Context, userID string) (*Score, error)
	PutTrustScore(ctx context.Context, score *Score) error
}

// Store owns all reputation reads and writes. Decay is applied lazily on
// every Get; mutation goes through ApplyDelta or ApplyFactorDelta only.
// The aggregate Score is recomputed from the factor record after every
// mutation, so it always equals Composite(Factors).
type Store struct {
	backend  Backend
	halfLife time.Duration
	now      func() time.Time
}

func NewStore(backend Backend, halfLife time.Duration) *Store {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return &Store{backend: backend, halfLife: halfLife, now: time.Now}
}

// Get returns the user's decayed score, creating a neutral default on first
// access.
func (s *Store) Get(ctx context.Context, userID string) (*Score, error) {
	sc, err := s.backend.GetTrustScore(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get trust score %s: %w", userID, err)
	}
	if sc == nil {
		factors := DefaultFactors()
		sc = &Score{
			UserID:        userID,
			Score:         Composite(factors),
			PreviousScore: Composite(factors),
			LastUpdated:   s.now(),
			Factors:       factors,
		}
		if err := s.backend.PutTrustScore(ctx, sc); err != nil {
			return nil, fmt.Errorf("create trust score %s: %w", userID, err)
		}
		return sc, nil
	}
	s.decay(sc)
	return sc, nil
}

// ApplyDelta shifts the user's whole reputation by delta. The shift is
// applied to each weighted factor, clamped per factor, and the aggregate is
// recomputed, so a uniform adjustment never detaches the score from its
// factor record.
func (s *Store) ApplyDelta(ctx context.Context, userID string, delta float64, reason string) (*Score, error) {
	sc, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sc.Factors.ReportingAccuracy = Clamp(sc.Factors.ReportingAccuracy + delta)
	sc.Factors.ConfirmationAccuracy = Clamp(sc.Factors.ConfirmationAccuracy + delta)
	sc.Factors.DisputeAccuracy = Clamp(sc.Factors.DisputeAccuracy + delta)
	sc.Factors.LocationAccuracy = Clamp(sc.Factors.LocationAccuracy + delta)
	sc.Factors.ContributionFrequency = Clamp(sc.Factors.ContributionFrequency + delta)
	sc.Factors.CommunityEndorsement = Clamp(sc.Factors.CommunityEndorsement + delta)
	return s.commit(ctx, sc, reason)
}

// ApplyFactorDelta shifts one named sub-score, clamped to [0,1], and
// recomputes the aggregate from the full factor record. A factor already at
// its bound absorbs the delta; the aggregate never moves unless a factor
// actually moved.
func (s *Store) ApplyFactorDelta(ctx context.Context, userID string, factor Factor, delta float64, reason string) (*Score, error) {
	sc, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch factor {
	case FactorReporting:
		sc.Factors.ReportingAccuracy = Clamp(sc.Factors.ReportingAccuracy + delta)
	case FactorConfirmation:
		sc.Factors.ConfirmationAccuracy = Clamp(sc.Factors.ConfirmationAccuracy + delta)
	case FactorDispute:
		sc.Factors.DisputeAccuracy = Clamp(sc.Factors.DisputeAccuracy + delta)
	case FactorLocation:
		sc.Factors.LocationAccuracy = Clamp(sc.Factors.LocationAccuracy + delta)
	case FactorFrequency:
		sc.Factors.ContributionFrequency = Clamp(sc.Factors.ContributionFrequency + delta)
	case FactorEndorsement:
		sc.Factors.CommunityEndorsement = Clamp(sc.Factors.CommunityEndorsement + delta)
	case FactorPenalty:
		sc.Factors.PenaltyScore = Clamp(sc.Factors.PenaltyScore + delta)
	default:
		return nil, fmt.Errorf("unknown trust factor %q", factor)
	}
	return s.commit(ctx, sc, reason)
}

// commit recomputes the aggregate from the factor record, records the
// resulting movement, and persists.
func (s *Store) commit(ctx context.Context, sc *Score, reason string) (*Score, error) {
	sc.PreviousScore = sc.Score
	sc.Score = Composite(sc.Factors)
	sc.LastUpdated = s.now()
	s.record(sc, sc.Score-sc.PreviousScore, reason)
	if err := s.backend.PutTrustScore(ctx, sc); err != nil {
		return nil, fmt.Errorf("put trust score %s: %w", sc.UserID, err)
	}
	return sc, nil
}

// decay ages each weighted factor toward the floor and recomputes the
// aggregate. The accumulated penalty does not decay. Sub-second elapses are
// ignored so rapid read cycles keep scores exact at threshold boundaries.
func (s *Store) decay(sc *Score) {
	elapsed := s.now().Sub(sc.LastUpdated)
	if elapsed < time.Second {
		return
	}
	sc.Factors.ReportingAccuracy = Decay(sc.Factors.ReportingAccuracy, elapsed, s.halfLife)
	sc.Factors.ConfirmationAccuracy = Decay(sc.Factors.ConfirmationAccuracy, elapsed, s.halfLife)
	sc.Factors.DisputeAccuracy = Decay(sc.Factors.DisputeAccuracy, elapsed, s.halfLife)
	sc.Factors.LocationAccuracy = Decay(sc.Factors.LocationAccuracy, elapsed, s.halfLife)
	sc.Factors.ContributionFrequency = Decay(sc.Factors.ContributionFrequency, elapsed, s.halfLife)
	sc.Factors.CommunityEndorsement = Decay(sc.Factors.CommunityEndorsement, elapsed, s.halfLife)
	sc.Score = Composite(sc.Factors)
}

func (s *Store) record(sc *Score, delta float64, reason string) {
	sc.History = append(sc.History, Change{
		ID:     uuid.New(),
		Delta:  delta,
		Reason: reason,
		At:     s.now(),
	})
	if len(sc.History) > MaxHistory {
		sc.History = sc.History[len(sc.History)-MaxHistory:]
	}
}
