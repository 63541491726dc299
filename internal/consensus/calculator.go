// Package consensus turns an event's current vote set into a verdict.
//
// Compute is a pure fold over the full set: it is idempotent and
// order-independent, so recomputing after any permutation of casts converges
// to the same result.
package consensus

import (
	"github.com/crowdguard/veritas/internal/anomaly"
	"github.com/crowdguard/veritas/internal/geo"
	"github.com/crowdguard/veritas/internal/ledger"
)

// Verdict is the engine's decision for an event.
type Verdict string

const (
	VerdictConfirm   Verdict = "confirm"
	VerdictDispute   Verdict = "dispute"
	VerdictUndecided Verdict = "undecided"
)

const (
	// DefaultQuorum is the minimum raw (non-withdrawn) vote count before a
	// non-undecided verdict is possible.
	DefaultQuorum = 3

	// anomalyDiscount multiplies the weight of votes the detector flagged.
	// Soft suppression: flagged votes lose influence but are never zeroed.
	anomalyDiscount = 0.3

	confirmRatioThreshold = 0.7
	disputeRatioThreshold = 0.3
	confidenceCap         = 0.95

	confidenceBelowQuorum = 0.1
	confidenceContested   = 0.5
)

// Result is the derived outcome for one event. It is recomputed on demand
// and never mutated in place.
type Result struct {
	EventID         string        `json:"event_id"`
	ConfirmVotes    int           `json:"confirm_votes"`
	DisputeVotes    int           `json:"dispute_votes"`
	WeightedConfirm float64       `json:"weighted_confirm"`
	WeightedDispute float64       `json:"weighted_dispute"`
	Verdict         Verdict       `json:"verdict"`
	Confidence      float64       `json:"confidence"`
	Anomalies       []anomaly.Tag `json:"anomalies,omitempty"`

	// report carries per-vote tags for the feedback engine.
	report anomaly.Report
}

// Flagged reports whether the given voter's vote collected an anomaly tag.
func (r Result) Flagged(voterID string) bool {
	return r.report.Flagged(voterID)
}

// Calculator folds vote sets into results. The zero quorum falls back to
// DefaultQuorum.
type Calculator struct {
	quorum int
}

func NewCalculator(quorum int) *Calculator {
	if quorum <= 0 {
		quorum = DefaultQuorum
	}
	return &Calculator{quorum: quorum}
}

// Compute derives the consensus result from the full current vote set.
// Withdrawn votes are excluded from the sums and the quorum count but still
// reach the anomaly detector for timing analysis.
func (c *Calculator) Compute(eventID string, votes []ledger.Vote) Result {
	report := anomaly.Detect(votes)

	result := Result{
		EventID:   eventID,
		Anomalies: report.Distinct(),
		report:    report,
	}

	var raw int
	for _, v := range votes {
		if v.Type != ledger.VoteConfirm && v.Type != ledger.VoteDispute {
			continue
		}
		raw++

		weight := v.TrustWeightAtCast * geo.DistanceFactor(v.DistanceMeters)
		if report.Flagged(v.VoterID) {
			weight *= anomalyDiscount
		}

		switch v.Type {
		case ledger.VoteConfirm:
			result.ConfirmVotes++
			result.WeightedConfirm += weight
		case ledger.VoteDispute:
			result.DisputeVotes++
			result.WeightedDispute += weight
		}
	}

	if raw < c.quorum {
		result.Verdict = VerdictUndecided
		result.Confidence = confidenceBelowQuorum
		return result
	}

	total := result.WeightedConfirm + result.WeightedDispute
	var confirmRatio float64
	if total > 0 {
		confirmRatio = result.WeightedConfirm / total
	}

	switch {
	case confirmRatio >= confirmRatioThreshold:
		result.Verdict = VerdictConfirm
		result.Confidence = min(confidenceCap, confirmRatio)
	case confirmRatio <= disputeRatioThreshold:
		result.Verdict = VerdictDispute
		result.Confidence = min(confidenceCap, 1-confirmRatio)
	default:
		result.Verdict = VerdictUndecided
		result.Confidence = confidenceContested
	}
	return result
}
