// Package feedback turns resolved verdicts into trust-score adjustments.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/crowdguard/veritas/internal/consensus"
	"github.com/crowdguard/veritas/internal/ledger"
	"github.com/crowdguard/veritas/internal/trust"
)

const (
	// MaxDelta bounds every single adjustment so one event can never cause
	// a large reputation swing.
	MaxDelta = 0.05

	rewardBase   = 0.03
	penaltyBase  = 0.03
	reporterBase = 0.05

	// flaggedScale shrinks the penalty for votes the anomaly detector
	// already discounted; their unreliability was priced in at aggregation.
	flaggedScale = 0.5
)

// Engine applies post-verdict score deltas. It is triggered whenever a
// verdict transitions away from undecided, or when an event is
// administratively overturned.
type Engine struct {
	trust  *trust.Store
	logger *slog.Logger
}

func New(trustStore *trust.Store, logger *slog.Logger) *Engine {
	return &Engine{trust: trustStore, logger: logger}
}

// Apply rewards voters who matched the verdict and penalizes those who did
// not, then adjusts the reporter's reporting accuracy. Individual failures
// are logged and skipped so one bad row cannot block the rest.
func (e *Engine) Apply(ctx context.Context, event *ledger.Event, votes []ledger.Vote, result consensus.Result) error {
	if result.Verdict == consensus.VerdictUndecided {
		return fmt.Errorf("no feedback for an undecided verdict")
	}

	var failed int
	for _, v := range votes {
		factor, delta, ok := e.voteDelta(v, result)
		if !ok {
			continue
		}
		reason := fmt.Sprintf("event %s resolved %s", event.ID, result.Verdict)
		if _, err := e.trust.ApplyFactorDelta(ctx, v.VoterID, factor, delta, reason); err != nil {
			e.logger.Error("trust feedback failed", "voter_id", v.VoterID, "event_id", event.ID, "error", err)
			failed++
		}
	}

	reporterDelta := bound(reporterBase * result.Confidence)
	if result.Verdict == consensus.VerdictDispute {
		reporterDelta = -reporterDelta
	}
	reason := fmt.Sprintf("report %s resolved %s", event.ID, result.Verdict)
	if _, err := e.trust.ApplyFactorDelta(ctx, event.ReporterID, trust.FactorReporting, reporterDelta, reason); err != nil {
		e.logger.Error("reporter feedback failed", "reporter_id", event.ReporterID, "event_id", event.ID, "error", err)
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("feedback incomplete: %d adjustments failed", failed)
	}
	return nil
}

// voteDelta resolves the factor and bounded delta for one vote. Withdrawn
// votes get no feedback.
func (e *Engine) voteDelta(v ledger.Vote, result consensus.Result) (trust.Factor, float64, bool) {
	var factor trust.Factor
	var matched bool
	switch v.Type {
	case ledger.VoteConfirm:
		factor = trust.FactorConfirmation
		matched = result.Verdict == consensus.VerdictConfirm
	case ledger.VoteDispute:
		factor = trust.FactorDispute
		matched = result.Verdict == consensus.VerdictDispute
	default:
		return "", 0, false
	}

	if matched {
		return factor, bound(rewardBase * result.Confidence), true
	}
	penalty := penaltyBase * result.Confidence
	if result.Flagged(v.VoterID) {
		penalty *= flaggedScale
	}
	return factor, -bound(penalty), true
}

func bound(delta float64) float64 {
	return math.Min(delta, MaxDelta)
}
