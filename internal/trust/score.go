package trust

import (
	"math"
	"time"
)

const (
	// DefaultScore is the neutral reputation assigned on first contact.
	DefaultScore = 0.5

	// Floor is the minimum a score can decay to. Users are never zeroed
	// out; inactivity converges toward the floor instead.
	Floor = 0.1

	// DefaultHalfLife is how long it takes an idle score to lose half of
	// its distance to the floor.
	DefaultHalfLife = 30 * 24 * time.Hour
)

// Factors are the named sub-scores contributing to a user's reputation.
type Factors struct {
	ReportingAccuracy     float64  `json:"reporting_accuracy"`
	ConfirmationAccuracy  float64  `json:"confirmation_accuracy"`
	DisputeAccuracy       float64  `json:"dispute_accuracy"`
	ResponseTimeSeconds   float64  `json:"response_time_seconds"`
	LocationAccuracy      float64  `json:"location_accuracy"`
	ContributionFrequency float64  `json:"contribution_frequency"`
	CommunityEndorsement  float64  `json:"community_endorsement"`
	PenaltyScore          float64  `json:"penalty_score"`
	ExpertiseAreas        []string `json:"expertise_areas,omitempty"`
}

// DefaultFactors returns the neutral factor record for a new user. Every
// weighted factor starts at DefaultScore so the record composes back to
// exactly DefaultScore.
func DefaultFactors() Factors {
	return UniformFactors(DefaultScore)
}

// UniformFactors returns a factor record with every weighted factor at v,
// which composes back to exactly v. Useful for bootstrapping users at a
// known reputation.
func UniformFactors(v float64) Factors {
	v = Clamp(v)
	return Factors{
		ReportingAccuracy:     v,
		ConfirmationAccuracy:  v,
		DisputeAccuracy:       v,
		LocationAccuracy:      v,
		ContributionFrequency: v,
		CommunityEndorsement:  v,
	}
}

// Composite aggregates the factor record into a single score.
//
// Weights: reporting 0.30, confirmation 0.25, dispute 0.15, location 0.10,
// frequency 0.10, endorsement 0.10, minus the accumulated penalty.
func Composite(f Factors) float64 {
	score := 0.30*f.ReportingAccuracy +
		0.25*f.ConfirmationAccuracy +
		0.15*f.DisputeAccuracy +
		0.10*f.LocationAccuracy +
		0.10*f.ContributionFrequency +
		0.10*f.CommunityEndorsement -
		f.PenaltyScore
	return Clamp(score)
}

// Decay applies exponential half-life decay toward the floor.
//
// Formula: score' = floor + (score - floor) * 0.5^(elapsed / halfLife)
func Decay(score float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || score <= Floor {
		return Clamp(score)
	}
	factor := math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
	return Clamp(Floor + (score-Floor)*factor)
}

// Clamp bounds a score to [0,1].
func Clamp(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
