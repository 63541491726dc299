package feedback

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/crowdguard/veritas/internal/consensus"
	"github.com/crowdguard/veritas/internal/geo"
	"github.com/crowdguard/veritas/internal/ledger"
	"github.com/crowdguard/veritas/internal/trust"
)

type fakeBackend struct {
	scores map[string]*trust.Score
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{scores: make(map[string]*trust.Score)}
}

func (b *fakeBackend) GetTrustScore(_ context.Context, userID string) (*trust.Score, error) {
	sc, ok := b.scores[userID]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (b *fakeBackend) PutTrustScore(_ context.Context, sc *trust.Score) error {
	cp := *sc
	b.scores[sc.UserID] = &cp
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func vote(voterID string, voteType ledger.VoteType, weight float64, castAt time.Time) ledger.Vote {
	return ledger.Vote{
		EventID:           "evt",
		VoterID:           voterID,
		Type:              voteType,
		TrustWeightAtCast: weight,
		CastAt:            castAt,
	}
}

func testEvent() *ledger.Event {
	return &ledger.Event{
		ID:         "evt",
		Severity:   4,
		Location:   geo.Point{Lat: 40, Lng: -3},
		ReporterID: "reporter",
		Status:     ledger.StatusPending,
		CreatedAt:  time.Now(),
	}
}

func TestApply_RewardsAndPenalizes(t *testing.T) {
	backend := newFakeBackend()
	ts := trust.NewStore(backend, trust.DefaultHalfLife)
	engine := New(ts, testLogger())
	ctx := context.Background()

	base := time.Now()
	votes := []ledger.Vote{
		vote("c1", ledger.VoteConfirm, 0.9, base),
		vote("c2", ledger.VoteConfirm, 0.9, base.Add(time.Minute)),
		vote("c3", ledger.VoteConfirm, 0.9, base.Add(2*time.Minute)),
		vote("c4", ledger.VoteConfirm, 0.9, base.Add(3*time.Minute)),
		vote("c5", ledger.VoteConfirm, 0.9, base.Add(4*time.Minute)),
		vote("d1", ledger.VoteDispute, 0.6, base.Add(5*time.Minute)),
		vote("d2", ledger.VoteDispute, 0.6, base.Add(6*time.Minute)),
	}
	result := consensus.NewCalculator(0).Compute("evt", votes)
	if result.Verdict != consensus.VerdictConfirm {
		t.Fatalf("fixture verdict = %s, want confirm", result.Verdict)
	}

	if err := engine.Apply(ctx, testEvent(), votes, result); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	c1, _ := ts.Get(ctx, "c1")
	gain := c1.Factors.ConfirmationAccuracy - trust.DefaultScore
	if gain <= 0 || gain > MaxDelta {
		t.Errorf("confirm voter gain = %f, want positive and ≤ %f", gain, MaxDelta)
	}

	d1, _ := ts.Get(ctx, "d1")
	loss := trust.DefaultScore - d1.Factors.DisputeAccuracy
	if loss <= 0 || loss > MaxDelta {
		t.Errorf("dispute voter loss = %f, want positive and ≤ %f", loss, MaxDelta)
	}

	rep, _ := ts.Get(ctx, "reporter")
	repGain := rep.Factors.ReportingAccuracy - trust.DefaultScore
	if repGain <= 0 || repGain > MaxDelta {
		t.Errorf("reporter gain = %f, want positive and ≤ %f", repGain, MaxDelta)
	}
}

func TestApply_DisputedReportPenalizesReporter(t *testing.T) {
	backend := newFakeBackend()
	ts := trust.NewStore(backend, trust.DefaultHalfLife)
	engine := New(ts, testLogger())
	ctx := context.Background()

	base := time.Now()
	votes := []ledger.Vote{
		vote("d1", ledger.VoteDispute, 0.8, base),
		vote("d2", ledger.VoteDispute, 0.8, base.Add(time.Minute)),
		vote("d3", ledger.VoteDispute, 0.8, base.Add(2*time.Minute)),
	}
	result := consensus.NewCalculator(0).Compute("evt", votes)
	if result.Verdict != consensus.VerdictDispute {
		t.Fatalf("fixture verdict = %s, want dispute", result.Verdict)
	}

	if err := engine.Apply(ctx, testEvent(), votes, result); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rep, _ := ts.Get(ctx, "reporter")
	if rep.Factors.ReportingAccuracy >= trust.DefaultScore {
		t.Errorf("reporting accuracy = %f, want below default after disputed report", rep.Factors.ReportingAccuracy)
	}
}

func TestApply_FlaggedVotesGetSmallerPenalty(t *testing.T) {
	backend := newFakeBackend()
	ts := trust.NewStore(backend, trust.DefaultHalfLife)
	engine := New(ts, testLogger())
	ctx := context.Background()

	// Sybil swarm disputing; one clean mid-trust dispute mismatches too.
	base := time.Now()
	votes := []ledger.Vote{
		vote("legit1", ledger.VoteConfirm, 0.9, base),
		vote("legit2", ledger.VoteConfirm, 0.9, base.Add(time.Minute)),
		vote("legit3", ledger.VoteConfirm, 0.9, base.Add(2*time.Minute)),
		vote("clean-dispute", ledger.VoteDispute, 0.6, base.Add(3*time.Minute)),
	}
	for i := 0; i < 7; i++ {
		votes = append(votes, vote(
			"swarm-"+string(rune('a'+i)), ledger.VoteDispute, 0.1,
			base.Add(time.Duration(i+4)*time.Minute)))
	}
	result := consensus.NewCalculator(0).Compute("evt", votes)
	if result.Verdict != consensus.VerdictConfirm {
		t.Fatalf("fixture verdict = %s, want confirm", result.Verdict)
	}
	if !result.Flagged("swarm-a") {
		t.Fatal("fixture swarm vote should be flagged")
	}

	if err := engine.Apply(ctx, testEvent(), votes, result); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	clean, _ := ts.Get(ctx, "clean-dispute")
	flagged, _ := ts.Get(ctx, "swarm-a")
	cleanLoss := trust.DefaultScore - clean.Factors.DisputeAccuracy
	flaggedLoss := trust.DefaultScore - flagged.Factors.DisputeAccuracy

	if flaggedLoss <= 0 {
		t.Fatal("flagged mismatching vote should still lose some accuracy")
	}
	if math.Abs(flaggedLoss-cleanLoss*flaggedScale) > 0.001 {
		t.Errorf("flagged loss = %f, want %f (clean loss %f scaled by %f)",
			flaggedLoss, cleanLoss*flaggedScale, cleanLoss, flaggedScale)
	}
}

func TestApply_WithdrawnVotesIgnored(t *testing.T) {
	backend := newFakeBackend()
	ts := trust.NewStore(backend, trust.DefaultHalfLife)
	engine := New(ts, testLogger())
	ctx := context.Background()

	base := time.Now()
	votes := []ledger.Vote{
		vote("c1", ledger.VoteConfirm, 0.8, base),
		vote("c2", ledger.VoteConfirm, 0.8, base.Add(time.Minute)),
		vote("c3", ledger.VoteConfirm, 0.8, base.Add(2*time.Minute)),
		vote("w1", ledger.VoteWithdrawn, 0.8, base.Add(3*time.Minute)),
	}
	result := consensus.NewCalculator(0).Compute("evt", votes)

	if err := engine.Apply(ctx, testEvent(), votes, result); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	w1, _ := ts.Get(ctx, "w1")
	if math.Abs(w1.Factors.ConfirmationAccuracy-trust.DefaultScore) > 0.001 ||
		math.Abs(w1.Factors.DisputeAccuracy-trust.DefaultScore) > 0.001 {
		t.Error("withdrawn vote must receive no feedback")
	}
}

func TestApply_UndecidedRejected(t *testing.T) {
	ts := trust.NewStore(newFakeBackend(), trust.DefaultHalfLife)
	engine := New(ts, testLogger())

	result := consensus.NewCalculator(0).Compute("evt", nil)
	if err := engine.Apply(context.Background(), testEvent(), nil, result); err == nil {
		t.Error("undecided verdicts must not produce feedback")
	}
}
