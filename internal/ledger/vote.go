package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/crowdguard/veritas/internal/geo"
)

// VoteType is the closed set of vote kinds.
type VoteType string

const (
	VoteConfirm VoteType = "confirm"
	VoteDispute VoteType = "dispute"

	// VoteWithdrawn retracts a previous vote. Withdrawn votes are excluded
	// from consensus sums but stay visible to timing analysis.
	VoteWithdrawn VoteType = "withdrawn"
)

// Valid reports whether t is a known vote type.
func (t VoteType) Valid() bool {
	switch t {
	case VoteConfirm, VoteDispute, VoteWithdrawn:
		return true
	}
	return false
}

var (
	// ErrInsufficientTrust means the voter's live score is below the
	// threshold for the requested vote type. Not retryable.
	ErrInsufficientTrust = errors.New("trust score below threshold for vote type")

	// ErrStoreUnavailable means the backing store failed transiently.
	// Retryable with backoff at the caller; the ledger never retries
	// internally.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrUnknownEvent means the event does not exist in the store.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidVoteType means the vote type is outside the closed set.
	ErrInvalidVoteType = errors.New("invalid vote type")
)

// Vote is one effective vote. At most one exists per (EventID, VoterID); a
// later cast by the same voter replaces it.
type Vote struct {
	ID                uuid.UUID `json:"id"`
	EventID           string    `json:"event_id"`
	VoterID           string    `json:"voter_id"`
	Type              VoteType  `json:"type"`
	TrustWeightAtCast float64   `json:"trust_weight_at_cast"`
	DistanceMeters    *float64  `json:"distance_meters,omitempty"`
	CastAt            time.Time `json:"cast_at"`
}

// EventStatus mirrors the reporting flow's lifecycle for an event.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusConfirmed EventStatus = "confirmed"
	StatusDisputed  EventStatus = "disputed"
	StatusExpired   EventStatus = "expired"
)

// Event is the slice of the reporting flow's record this engine reads.
// Only Status is ever written back.
type Event struct {
	ID         string      `json:"id"`
	Severity   int         `json:"severity"`
	Location   geo.Point   `json:"location"`
	ReporterID string      `json:"reporter_id"`
	Status     EventStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}
