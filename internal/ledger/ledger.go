// Package ledger records one effective vote per (event, voter) pair and
// enforces the trust thresholds for casting.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crowdguard/veritas/internal/geo"
	"github.com/crowdguard/veritas/internal/trust"
)

// Default trust thresholds. Disputing an event is held to a stricter bar
// than confirming one.
const (
	DefaultConfirmThreshold = 0.4
	DefaultDisputeThreshold = 0.5
)

// VoteStore is the row contract for votes and events. UpsertVote must be
// atomic on the (event_id, voter_id) key.
type VoteStore interface {
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	GetVotesForEvent(ctx context.Context, eventID string) ([]Vote, error)
	UpsertVote(ctx context.Context, vote Vote) error
}

// Ledger validates and records votes. Weight is snapshotted from the live
// decayed trust score at cast time and re-snapshotted on replacement.
type Ledger struct {
	votes            VoteStore
	trust            *trust.Store
	confirmThreshold float64
	disputeThreshold float64
	logger           *slog.Logger
	now              func() time.Time
}

func New(votes VoteStore, trustStore *trust.Store, confirmThreshold, disputeThreshold float64, logger *slog.Logger) *Ledger {
	if confirmThreshold <= 0 {
		confirmThreshold = DefaultConfirmThreshold
	}
	if disputeThreshold <= 0 {
		disputeThreshold = DefaultDisputeThreshold
	}
	return &Ledger{
		votes:            votes,
		trust:            trustStore,
		confirmThreshold: confirmThreshold,
		disputeThreshold: disputeThreshold,
		logger:           logger,
		now:              time.Now,
	}
}

// Cast records a vote for the event. A prior vote by the same voter is
// replaced in place. A missing or invalid voter location is accepted and
// simply recorded with no distance, which weights the vote as if the voter
// were at the event.
func (l *Ledger) Cast(ctx context.Context, eventID, voterID string, voteType VoteType, location *geo.Point) (*Vote, error) {
	if !voteType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVoteType, voteType)
	}

	event, err := l.votes.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}

	score, err := l.trust.Get(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := l.checkThreshold(voteType, score.Score); err != nil {
		return nil, err
	}

	var distance *float64
	if location != nil {
		if location.Valid() {
			d := geo.Haversine(*location, event.Location)
			distance = &d
		} else {
			// Malformed coordinates reject the location, not the vote.
			l.logger.Warn("invalid voter location, recording vote without distance",
				"event_id", eventID, "voter_id", voterID,
				"lat", location.Lat, "lng", location.Lng)
		}
	}

	vote := Vote{
		ID:                uuid.New(),
		EventID:           eventID,
		VoterID:           voterID,
		Type:              voteType,
		TrustWeightAtCast: score.Score,
		DistanceMeters:    distance,
		CastAt:            l.now(),
	}

	if err := l.votes.UpsertVote(ctx, vote); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	l.logger.Info("vote recorded",
		"event_id", eventID,
		"voter_id", voterID,
		"type", string(voteType),
		"weight", score.Score,
	)
	return &vote, nil
}

// Votes returns the current full vote set for the event.
func (l *Ledger) Votes(ctx context.Context, eventID string) ([]Vote, error) {
	votes, err := l.votes.GetVotesForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return votes, nil
}

func (l *Ledger) checkThreshold(voteType VoteType, score float64) error {
	switch voteType {
	case VoteConfirm:
		if score < l.confirmThreshold {
			return fmt.Errorf("%w: confirming requires a trust score of at least %.2f, yours is %.2f",
				ErrInsufficientTrust, l.confirmThreshold, score)
		}
	case VoteDispute:
		if score < l.disputeThreshold {
			return fmt.Errorf("%w: disputing requires a trust score of at least %.2f, yours is %.2f",
				ErrInsufficientTrust, l.disputeThreshold, score)
		}
	case VoteWithdrawn:
		// Withdrawing an existing vote is always allowed.
	}
	return nil
}
