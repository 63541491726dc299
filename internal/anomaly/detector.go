// Package anomaly flags manipulation patterns in an event's vote set.
//
// The detectors are heuristics, not proofs. Flagged votes are discounted by
// the consensus calculator, never excluded, so a single legitimate but
// unusual vote cannot be silently erased.
package anomaly

import (
	"sort"
	"time"

	"github.com/crowdguard/veritas/internal/ledger"
)

// Tag identifies a detected anomaly class.
type Tag string

const (
	TagSybilSwarm      Tag = "sybil-swarm"
	TagCollusion       Tag = "collusion-suspect"
	TagBurstTiming     Tag = "burst-timing"
	TagDistanceOutlier Tag = "distance-outlier"
)

const (
	// sybilWeightCeiling marks a vote as low-trust enough to count toward
	// a swarm, and sybilShare is how much of the vote set must be under it.
	sybilWeightCeiling = 0.2
	sybilShare         = 0.6

	// Collusion: low-trust votes opposing a high-trust majority.
	collusionHighTrust = 0.7
	collusionLowTrust  = 0.3
	collusionShare     = 0.8

	// burstMeanInterval is the mean inter-arrival time under which the
	// whole set is considered scripted.
	burstMeanInterval = time.Second

	// outlierMultiple flags distances beyond this multiple of the mean.
	outlierMultiple = 3.0
)

// Report maps voter IDs to the anomaly tags their vote collected. Within one
// event a voter has exactly one effective vote, so the voter ID is the key.
type Report struct {
	tags map[string][]Tag
}

// Tags returns the tags on the given voter's vote.
func (r Report) Tags(voterID string) []Tag {
	return r.tags[voterID]
}

// Flagged reports whether the voter's vote collected any tag.
func (r Report) Flagged(voterID string) bool {
	return len(r.tags[voterID]) > 0
}

// Distinct returns every tag present in the report, in detection order.
func (r Report) Distinct() []Tag {
	seen := make(map[Tag]bool)
	var out []Tag
	for _, order := range []Tag{TagSybilSwarm, TagCollusion, TagBurstTiming, TagDistanceOutlier} {
		for _, tags := range r.tags {
			for _, tag := range tags {
				if tag == order && !seen[tag] {
					seen[tag] = true
					out = append(out, tag)
				}
			}
		}
	}
	return out
}

func (r *Report) add(voterID string, tag Tag) {
	if r.tags == nil {
		r.tags = make(map[string][]Tag)
	}
	r.tags[voterID] = append(r.tags[voterID], tag)
}

// Detect runs every heuristic over the vote set. A vote may collect more
// than one tag. The input is never mutated.
func Detect(votes []ledger.Vote) Report {
	var r Report
	if len(votes) == 0 {
		return r
	}
	detectSybilSwarm(votes, &r)
	detectCollusion(votes, &r)
	detectBurstTiming(votes, &r)
	detectDistanceOutliers(votes, &r)
	return r
}

// detectSybilSwarm tags every low-trust vote when they dominate the set.
func detectSybilSwarm(votes []ledger.Vote, r *Report) {
	var low int
	for _, v := range votes {
		if v.TrustWeightAtCast < sybilWeightCeiling {
			low++
		}
	}
	if float64(low)/float64(len(votes)) <= sybilShare {
		return
	}
	for _, v := range votes {
		if v.TrustWeightAtCast < sybilWeightCeiling {
			r.add(v.VoterID, TagSybilSwarm)
		}
	}
}

// detectCollusion tags a low-trust bloc voting against a high-trust majority
// when the bloc makes up more than collusionShare of all low-trust votes.
func detectCollusion(votes []ledger.Vote, r *Report) {
	var highConfirm, highDispute int
	for _, v := range votes {
		if v.TrustWeightAtCast > collusionHighTrust {
			switch v.Type {
			case ledger.VoteConfirm:
				highConfirm++
			case ledger.VoteDispute:
				highDispute++
			}
		}
	}
	if highConfirm == highDispute {
		return // no high-trust lean
	}
	majority := ledger.VoteConfirm
	if highDispute > highConfirm {
		majority = ledger.VoteDispute
	}

	var lowTotal int
	var opposing []string
	for _, v := range votes {
		if v.TrustWeightAtCast >= collusionLowTrust {
			continue
		}
		if v.Type != ledger.VoteConfirm && v.Type != ledger.VoteDispute {
			continue
		}
		lowTotal++
		if v.Type != majority {
			opposing = append(opposing, v.VoterID)
		}
	}
	if lowTotal == 0 || float64(len(opposing))/float64(lowTotal) <= collusionShare {
		return
	}
	for _, voterID := range opposing {
		r.add(voterID, TagCollusion)
	}
}

// detectBurstTiming tags the whole set when votes arrive scripted-fast.
// Withdrawn votes still count here; retraction spam is part of the pattern.
func detectBurstTiming(votes []ledger.Vote, r *Report) {
	if len(votes) < 2 {
		return
	}
	times := make([]time.Time, len(votes))
	for i, v := range votes {
		times[i] = v.CastAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	total := times[len(times)-1].Sub(times[0])
	mean := total / time.Duration(len(times)-1)
	if mean >= burstMeanInterval {
		return
	}
	for _, v := range votes {
		r.add(v.VoterID, TagBurstTiming)
	}
}

// detectDistanceOutliers tags votes whose distance exceeds a multiple of the
// set's mean distance. Votes with unknown distance are left alone.
func detectDistanceOutliers(votes []ledger.Vote, r *Report) {
	var sum float64
	var known int
	for _, v := range votes {
		if v.DistanceMeters != nil {
			sum += *v.DistanceMeters
			known++
		}
	}
	if known == 0 {
		return
	}
	mean := sum / float64(known)
	if mean == 0 {
		return
	}
	for _, v := range votes {
		if v.DistanceMeters != nil && *v.DistanceMeters > outlierMultiple*mean {
			r.add(v.VoterID, TagDistanceOutlier)
		}
	}
}
