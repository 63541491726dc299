package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	votesTotal *prometheus.CounterVec

	recomputeDuration prometheus.Histogram

	verdictTransitionsTotal *prometheus.CounterVec

	anomalyTagsTotal *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		votesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veritas_votes_total",
				Help: "Total vote casts by type and outcome",
			},
			[]string{"type", "outcome"},
		)

		recomputeDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "veritas_consensus_recompute_seconds",
				Help:    "Duration of consensus recomputations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		)

		verdictTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veritas_verdict_transitions_total",
				Help: "Verdict transitions by new verdict",
			},
			[]string{"verdict"},
		)

		anomalyTagsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veritas_anomaly_tags_total",
				Help: "Anomaly tags observed during recomputation",
			},
			[]string{"tag"},
		)
	})
}

func recordVote(voteType, outcome string) {
	if votesTotal != nil {
		votesTotal.WithLabelValues(voteType, outcome).Inc()
	}
}

func observeRecompute(d time.Duration) {
	if recomputeDuration != nil {
		recomputeDuration.Observe(d.Seconds())
	}
}

func recordTransition(verdict string) {
	if verdictTransitionsTotal != nil {
		verdictTransitionsTotal.WithLabelValues(verdict).Inc()
	}
}

func recordAnomaly(tag string) {
	if anomalyTagsTotal != nil {
		anomalyTagsTotal.WithLabelValues(tag).Inc()
	}
}
