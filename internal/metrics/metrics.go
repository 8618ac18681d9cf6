// Package metrics registers the Prometheus instrumentation for the
// scoring pipeline. promauto ties registration to process lifetime, so
// construct Metrics exactly once per process (tests that need isolation
// construct their own registry-free stats on the pipeline instead).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scoring pipeline
type Metrics struct {
	// Ingestion metrics
	EventsIngested *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	MulticamFusions prometheus.Counter
	MomentumSwings  prometheus.Counter

	// Scoring metrics
	ScoreComputations *prometheus.CounterVec
	ScoringDuration   prometheus.Histogram
	RoundDelta        prometheus.Histogram

	// Lifecycle metrics
	RoundsOpened  prometheus.Counter
	RoundsLocked  prometheus.Counter
	LocksRefused  *prometheus.CounterVec
	ActiveBouts   prometheus.Gauge

	// Audit metrics
	AuditEntries *prometheus.CounterVec

	// Bus metrics
	BusPublished          *prometheus.CounterVec
	BusEvictedSubscribers prometheus.Counter
	BusSubscribers        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringside_events_ingested_total",
				Help: "Events admitted into rounds, by producer source",
			},
			[]string{"source"},
		),

		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringside_events_rejected_total",
				Help: "Events refused at harmonization or admission",
			},
			[]string{"reason"}, // LOW_CONFIDENCE, DUPLICATE, harmonization codes
		),

		MulticamFusions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ringside_multicam_fusions_total",
				Help: "Multi-camera groups collapsed to one canonical event",
			},
		),

		MomentumSwings: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ringside_momentum_swings_total",
				Help: "Synthesized momentum-swing events",
			},
		),

		ScoreComputations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringside_score_computations_total",
				Help: "Scoring engine passes, by resulting score card",
			},
			[]string{"score_card"},
		),

		ScoringDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ringside_scoring_duration_seconds",
				Help:    "Wall time of one scoring engine pass",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
			},
		),

		RoundDelta: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ringside_round_delta",
				Help:    "Absolute round delta produced by the Plan A/B/C hierarchy",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		),

		RoundsOpened: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ringside_rounds_opened_total",
				Help: "Rounds created by operator action",
			},
		),

		RoundsLocked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ringside_rounds_locked_total",
				Help: "Rounds locked with an event-hash commit",
			},
		),

		LocksRefused: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringside_locks_refused_total",
				Help: "Lock attempts refused by the validator",
			},
			[]string{"issue"}, // dominant critical issue kind
		),

		ActiveBouts: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ringside_active_bouts",
				Help: "Bout workers currently running",
			},
		),

		AuditEntries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringside_audit_entries_total",
				Help: "Signed audit entries appended, by action",
			},
			[]string{"action"},
		),

		BusPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringside_bus_published_total",
				Help: "Messages published to the fan-out bus, by topic",
			},
			[]string{"topic"},
		),

		BusEvictedSubscribers: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ringside_bus_evicted_subscribers_total",
				Help: "Subscribers evicted after overflowing their queue",
			},
		),

		BusSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ringside_bus_subscribers",
				Help: "Currently registered bus subscribers",
			},
		),
	}
}

// RecordAdmission records one admitted event
func (m *Metrics) RecordAdmission(source string) {
	m.EventsIngested.WithLabelValues(source).Inc()
}

// RecordRejection records one refused event with its reason code
func (m *Metrics) RecordRejection(reason string) {
	m.EventsRejected.WithLabelValues(reason).Inc()
}

// RecordScore records a completed scoring pass
func (m *Metrics) RecordScore(scoreCard string, seconds float64, delta float64) {
	m.ScoreComputations.WithLabelValues(scoreCard).Inc()
	m.ScoringDuration.Observe(seconds)
	if delta < 0 {
		delta = -delta
	}
	m.RoundDelta.Observe(delta)
}

// RecordLockRefused records a validator-refused lock
func (m *Metrics) RecordLockRefused(issue string) {
	m.LocksRefused.WithLabelValues(issue).Inc()
}

// RecordPublish records a bus publish on a topic
func (m *Metrics) RecordPublish(topic string) {
	m.BusPublished.WithLabelValues(topic).Inc()
}

// RecordAudit records an appended audit entry
func (m *Metrics) RecordAudit(action string) {
	m.AuditEntries.WithLabelValues(action).Inc()
}
