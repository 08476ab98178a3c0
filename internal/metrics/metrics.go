// Package metrics defines the Prometheus instruments for the trust core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Client ids are never used as label
// values.
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	BatchesProcessed *prometheus.CounterVec
	RiskScore        prometheus.Histogram
	BotDetections    prometheus.Counter

	// Trust metrics
	TrustDeltas    *prometheus.CounterVec
	DecayPenalties prometheus.Counter

	// Backend metrics
	StoreFallbacks  *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	EvidenceWrites  *prometheus.CounterVec
	EvidenceDropped prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_active_sessions",
			Help: "Open telemetry sessions",
		}),
		BatchesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_batches_total",
				Help: "Telemetry batches handled",
			},
			[]string{"outcome"}, // outcome: processed, invalid_json
		),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_risk_score",
			Help:    "Anomaly risk score per processed batch",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		BotDetections: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_bot_detections_total",
			Help: "Batches flagged by the bot heuristics",
		}),
		TrustDeltas: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_trust_adjustments_total",
				Help: "Trust adjustments by reason",
			},
			[]string{"reason"},
		),
		DecayPenalties: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_decay_penalties_total",
			Help: "Idle-window trust penalties applied",
		}),
		StoreFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_trust_store_fallbacks_total",
				Help: "Trust operations served locally because the primary store failed",
			},
			[]string{"op"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		EvidenceWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_evidence_writes_total",
				Help: "Encrypted batch hand-offs by result",
			},
			[]string{"result"}, // result: ok, error
		),
		EvidenceDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_evidence_dropped_total",
			Help: "Encrypted batches dropped before hand-off",
		}),
	}
}

// EvidenceResult records the outcome of one persisted batch.
func (m *Metrics) EvidenceResult(err error) {
	if err != nil {
		m.EvidenceWrites.WithLabelValues("error").Inc()
		return
	}
	m.EvidenceWrites.WithLabelValues("ok").Inc()
}
