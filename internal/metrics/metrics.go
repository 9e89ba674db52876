// Package metrics exposes Prometheus instrumentation for the review
// workflow: lifecycle totals, queue depth, review latency, and circuit
// breaker health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects staging workflow measurements.
//
// The daemon serves them at /metrics through the standard prometheus HTTP
// handler.
type Metrics struct {
	// StagedCounter counts commands entering the pending queue.
	StagedCounter prometheus.Counter

	// DecisionCounter counts terminal outcomes.
	// Labels: outcome (approved|rejected|expired|auto_approved), reviewer_kind (human|system)
	DecisionCounter *prometheus.CounterVec

	// PendingGauge tracks the current pending queue depth.
	PendingGauge prometheus.Gauge

	// ReviewLatency measures time from staging to decision in seconds.
	// Buckets: 1s, 10s, 30s, 60s, 300s, 900s, 3600s, 14400s
	ReviewLatency prometheus.Histogram

	// ValidationFailures counts requests rejected before staging.
	ValidationFailures prometheus.Counter

	// CircuitState reports the store circuit breaker: 0 closed, 1 open.
	CircuitState prometheus.Gauge

	// StoreFailures counts exhausted store operations.
	StoreFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg. Pass nil to use
// the default registry; call once at startup in that case.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StagedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_commands_staged_total",
			Help: "Total number of commands placed into the pending queue",
		}),

		DecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagegate_decisions_total",
				Help: "Total number of terminal decisions by outcome and reviewer kind",
			},
			[]string{"outcome", "reviewer_kind"},
		),

		PendingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stagegate_pending_commands",
			Help: "Current number of commands awaiting review",
		}),

		ReviewLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stagegate_review_latency_seconds",
			Help:    "Time from staging to decision in seconds",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 3600, 14400},
		}),

		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_validation_failures_total",
			Help: "Total number of requests rejected by validation before staging",
		}),

		CircuitState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stagegate_store_circuit_open",
			Help: "Store circuit breaker state: 0 closed, 1 open",
		}),

		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_store_failures_total",
			Help: "Total number of store operations that exhausted their retries",
		}),
	}
}

// CommandStaged records a command entering the queue.
func (m *Metrics) CommandStaged() {
	m.StagedCounter.Inc()
}

// CommandApproved records an approval and its review latency.
func (m *Metrics) CommandApproved(human bool, latency time.Duration) {
	m.DecisionCounter.WithLabelValues("approved", reviewerKind(human)).Inc()
	m.ReviewLatency.Observe(latency.Seconds())
}

// CommandRejected records a rejection and its review latency.
func (m *Metrics) CommandRejected(human bool, latency time.Duration) {
	m.DecisionCounter.WithLabelValues("rejected", reviewerKind(human)).Inc()
	m.ReviewLatency.Observe(latency.Seconds())
}

// CommandAutoApproved records a rule-based approval that skipped the queue.
func (m *Metrics) CommandAutoApproved() {
	m.DecisionCounter.WithLabelValues("auto_approved", "system").Inc()
}

// CommandExpired records a pending command aging out.
func (m *Metrics) CommandExpired() {
	m.DecisionCounter.WithLabelValues("expired", "system").Inc()
}

// ValidationFailed records a request turned away before staging.
func (m *Metrics) ValidationFailed() {
	m.ValidationFailures.Inc()
}

// StoreFailed records a store operation that exhausted its retries.
func (m *Metrics) StoreFailed() {
	m.StoreFailures.Inc()
}

// SetPending updates the queue depth gauge.
func (m *Metrics) SetPending(n int) {
	m.PendingGauge.Set(float64(n))
}

// SetCircuitOpen updates the circuit breaker gauge.
func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitState.Set(1)
	} else {
		m.CircuitState.Set(0)
	}
}

func reviewerKind(human bool) string {
	if human {
		return "human"
	}
	return "system"
}
