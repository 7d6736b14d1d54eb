// Package metrics provides Prometheus metrics for the matching service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchRunsTotal tracks customers pushed through the match pipeline by outcome
	MatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinculo",
			Subsystem: "matching",
			Name:      "runs_total",
			Help:      "Total number of customer match runs by outcome",
		},
		[]string{"outcome"},
	)

	// MatchDuration tracks the duration of a single customer match
	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vinculo",
			Subsystem: "matching",
			Name:      "duration_seconds",
			Help:      "Duration of single customer match runs in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// MatchScoreDistribution tracks the best score of stored match sets
	MatchScoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vinculo",
			Subsystem: "matching",
			Name:      "best_score",
			Help:      "Distribution of best scores across stored match sets",
			Buckets:   []float64{15, 25, 40, 50, 65, 75, 85, 95, 100},
		},
	)

	// GeocodeLookupsTotal tracks geocode lookups by resolution source
	GeocodeLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinculo",
			Subsystem: "geocode",
			Name:      "lookups_total",
			Help:      "Total number of geocode lookups by source",
		},
		[]string{"source"},
	)

	// RefineRunsTotal tracks refinement outcomes per customer
	RefineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinculo",
			Subsystem: "refine",
			Name:      "runs_total",
			Help:      "Total number of per customer refinement runs by outcome",
		},
		[]string{"outcome"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinculo",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vinculo",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordMatchRun records a customer match run
func RecordMatchRun(outcome string, durationSeconds float64) {
	MatchRunsTotal.WithLabelValues(outcome).Inc()
	MatchDuration.Observe(durationSeconds)
}

// RecordGeocodeLookup records a geocode lookup by source
func RecordGeocodeLookup(source string) {
	GeocodeLookupsTotal.WithLabelValues(source).Inc()
}

// RecordRefineRun records a per customer refinement outcome
func RecordRefineRun(outcome string) {
	RefineRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
