package consensus

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/crowdguard/veritas/internal/ledger"
)

func vote(voterID string, voteType ledger.VoteType, weight float64, castAt time.Time) ledger.Vote {
	return ledger.Vote{
		EventID:           "evt",
		VoterID:           voterID,
		Type:              voteType,
		TrustWeightAtCast: weight,
		CastAt:            castAt,
	}
}

func withDistance(v ledger.Vote, meters float64) ledger.Vote {
	v.DistanceMeters = &meters
	return v
}

func TestCompute_QuorumNotMet(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		vote("a", ledger.VoteConfirm, 0.8, base),
		vote("b", ledger.VoteDispute, 0.8, base.Add(time.Minute)),
	}

	result := NewCalculator(0).Compute("evt", votes)
	if result.Verdict != VerdictUndecided {
		t.Errorf("verdict = %s, want undecided below quorum", result.Verdict)
	}
	if math.Abs(result.Confidence-0.1) > 0.001 {
		t.Errorf("confidence = %f, want 0.1", result.Confidence)
	}
}

func TestCompute_ClearConfirm(t *testing.T) {
	base := time.Now()
	var votes []ledger.Vote
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		votes = append(votes, withDistance(vote(id, ledger.VoteConfirm, 0.9, base.Add(time.Duration(i)*time.Minute)), 0))
	}

	result := NewCalculator(0).Compute("evt", votes)
	if result.Verdict != VerdictConfirm {
		t.Fatalf("verdict = %s, want confirm", result.Verdict)
	}
	if math.Abs(result.Confidence-0.95) > 0.001 {
		t.Errorf("confidence = %f, want capped at 0.95", result.Confidence)
	}
	if math.Abs(result.WeightedConfirm-4.5) > 0.001 {
		t.Errorf("weighted confirm = %f, want 4.5", result.WeightedConfirm)
	}
	if result.ConfirmVotes != 5 || result.DisputeVotes != 0 {
		t.Errorf("counts = %d/%d, want 5/0", result.ConfirmVotes, result.DisputeVotes)
	}
}

func TestCompute_ClearDispute(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		vote("a", ledger.VoteDispute, 0.8, base),
		vote("b", ledger.VoteDispute, 0.7, base.Add(time.Minute)),
		vote("c", ledger.VoteDispute, 0.9, base.Add(2*time.Minute)),
		vote("d", ledger.VoteConfirm, 0.35, base.Add(3*time.Minute)),
	}

	result := NewCalculator(0).Compute("evt", votes)
	if result.Verdict != VerdictDispute {
		t.Errorf("verdict = %s, want dispute", result.Verdict)
	}
	// confirmRatio = 0.35/2.75 ≈ 0.127, confidence = 1 - ratio
	if math.Abs(result.Confidence-0.8727) > 0.001 {
		t.Errorf("confidence = %f, want 0.8727", result.Confidence)
	}
}

func TestCompute_Contested(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		vote("a", ledger.VoteConfirm, 0.6, base),
		vote("b", ledger.VoteConfirm, 0.6, base.Add(time.Minute)),
		vote("c", ledger.VoteDispute, 0.6, base.Add(2*time.Minute)),
		vote("d", ledger.VoteDispute, 0.6, base.Add(3*time.Minute)),
	}

	result := NewCalculator(0).Compute("evt", votes)
	if result.Verdict != VerdictUndecided {
		t.Errorf("verdict = %s, want undecided at 50/50", result.Verdict)
	}
	if math.Abs(result.Confidence-0.5) > 0.001 {
		t.Errorf("confidence = %f, want 0.5", result.Confidence)
	}
}

func TestCompute_DistanceFloor(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		withDistance(vote("far", ledger.VoteConfirm, 0.8, base), 50000),
		vote("b", ledger.VoteConfirm, 0.5, base.Add(time.Minute)),
		vote("c", ledger.VoteConfirm, 0.5, base.Add(2*time.Minute)),
	}

	result := NewCalculator(0).Compute("evt", votes)
	// The 50km vote contributes exactly 0.8 * 0.1, never less.
	wantFar := 0.8 * 0.1
	got := result.WeightedConfirm - 1.0
	if math.Abs(got-wantFar) > 0.001 {
		t.Errorf("distant vote contributed %f, want %f", got, wantFar)
	}
}

func TestCompute_SybilSwarmDiscounted(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		vote("legit", ledger.VoteConfirm, 0.9, base),
	}
	for i := 0; i < 6; i++ {
		votes = append(votes, vote(
			string(rune('a'+i)), ledger.VoteDispute, 0.1,
			base.Add(time.Duration(i+1)*time.Minute)))
	}

	result := NewCalculator(0).Compute("evt", votes)

	// 6 of 7 votes under 0.2: swarm tag applies, each discounted to 0.03.
	if math.Abs(result.WeightedDispute-0.18) > 0.001 {
		t.Errorf("weighted dispute = %f, want 0.18 after discount", result.WeightedDispute)
	}
	// confirmRatio = 0.9/1.08 ≈ 0.833: the single legitimate vote prevails.
	if result.Verdict != VerdictConfirm {
		t.Errorf("verdict = %s, want confirm despite 6-to-1 raw count", result.Verdict)
	}
	if len(result.Anomalies) == 0 {
		t.Error("expected the swarm tag in the result anomalies")
	}
}

func TestCompute_WithdrawnExcludedFromSums(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		vote("a", ledger.VoteConfirm, 0.8, base),
		vote("b", ledger.VoteConfirm, 0.8, base.Add(time.Minute)),
		vote("c", ledger.VoteWithdrawn, 0.8, base.Add(2*time.Minute)),
	}

	result := NewCalculator(0).Compute("evt", votes)
	if result.ConfirmVotes != 2 {
		t.Errorf("confirm count = %d, want 2", result.ConfirmVotes)
	}
	// Two raw votes left: below quorum.
	if result.Verdict != VerdictUndecided {
		t.Errorf("verdict = %s, want undecided", result.Verdict)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		withDistance(vote("a", ledger.VoteConfirm, 0.9, base), 1200),
		vote("b", ledger.VoteDispute, 0.4, base.Add(time.Minute)),
		withDistance(vote("c", ledger.VoteConfirm, 0.7, base.Add(2*time.Minute)), 300),
		vote("d", ledger.VoteConfirm, 0.15, base.Add(3*time.Minute)),
	}

	calc := NewCalculator(0)
	first := calc.Compute("evt", votes)
	second := calc.Compute("evt", votes)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("recomputation diverged:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	base := time.Now()
	votes := []ledger.Vote{
		withDistance(vote("a", ledger.VoteConfirm, 0.9, base), 1200),
		vote("b", ledger.VoteDispute, 0.4, base.Add(time.Minute)),
		withDistance(vote("c", ledger.VoteConfirm, 0.7, base.Add(2*time.Minute)), 300),
		vote("d", ledger.VoteDispute, 0.15, base.Add(3*time.Minute)),
		vote("e", ledger.VoteConfirm, 0.55, base.Add(4*time.Minute)),
	}

	calc := NewCalculator(0)
	want := calc.Compute("evt", votes)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]ledger.Vote, len(votes))
		copy(shuffled, votes)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := calc.Compute("evt", shuffled)
		if got.Verdict != want.Verdict ||
			math.Abs(got.Confidence-want.Confidence) > 1e-9 ||
			math.Abs(got.WeightedConfirm-want.WeightedConfirm) > 1e-9 ||
			math.Abs(got.WeightedDispute-want.WeightedDispute) > 1e-9 {
			t.Fatalf("permutation %d diverged: got %+v, want %+v", i, got, want)
		}
	}
}

func TestCompute_EmptySet(t *testing.T) {
	result := NewCalculator(0).Compute("evt", nil)
	if result.Verdict != VerdictUndecided {
		t.Errorf("verdict = %s, want undecided", result.Verdict)
	}
	if math.Abs(result.Confidence-0.1) > 0.001 {
		t.Errorf("confidence = %f, want 0.1", result.Confidence)
	}
}
