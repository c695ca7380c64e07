// Package metrics provides the Conclave engine's internal Prometheus
// metrics registry. It is deliberately not wired to an HTTP handler:
// SPEC_FULL.md scopes Conclave as an embeddable deliberation engine, not
// a service with its own exposition endpoint, so the registry exists for
// in-process inspection (via Gather) and for future embedding by a host
// process that already runs its own /metrics surface (§6).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's metrics registry. It satisfies
// internal/validator.Recorder, internal/reconciliation.DrainRecorder, and
// internal/promotion.BudgetRecorder so every component that needs to
// emit metrics can be wired to a single instance.
type Metrics struct {
	registry *prometheus.Registry

	validationConcurrency prometheus.Gauge
	validationLatency     prometheus.Histogram
	degradedModeTotal     prometheus.Counter

	reconciliationDrainSeconds prometheus.Histogram

	promotionBudgetExhausted *prometheus.CounterVec
}

// New constructs a Metrics registry with its own private
// prometheus.Registry, independent of the global DefaultRegisterer so
// embedding a Conclave instance in a host process can never collide with
// that host's own metric names.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.validationConcurrency = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conclave",
		Subsystem: "validator",
		Name:      "in_flight_validations",
		Help:      "Number of validator LLM calls holding a semaphore slot, sampled when a Phase-1 task acquires one",
	})
	m.validationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "conclave",
		Subsystem: "validator",
		Name:      "validation_duration_seconds",
		Help:      "Time to complete a vote's three-tier validation pipeline",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	m.degradedModeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "validator",
		Name:      "degraded_mode_total",
		Help:      "Total number of votes that fell back to the optimistic tally after all Phase-1 tasks failed",
	})

	m.reconciliationDrainSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "conclave",
		Subsystem: "reconciliation",
		Name:      "drain_duration_seconds",
		Help:      "Time the Reconciliation Gate spent draining pending validations before adjournment",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	m.promotionBudgetExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "promotion",
		Name:      "budget_exhausted_total",
		Help:      "Total number of promotion attempts rejected because a King's per-cycle budget was exhausted",
	}, []string{"king_id"})

	m.registry.MustRegister(
		m.validationConcurrency,
		m.validationLatency,
		m.degradedModeTotal,
		m.reconciliationDrainSeconds,
		m.promotionBudgetExhausted,
	)
	return m
}

// Registry exposes the underlying prometheus.Registry so a host process
// can Gather it into its own exposition surface if it chooses to.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveConcurrency implements internal/validator.Recorder.
func (m *Metrics) ObserveConcurrency(inFlight int) { m.validationConcurrency.Set(float64(inFlight)) }

// ObserveValidationLatency implements internal/validator.Recorder.
func (m *Metrics) ObserveValidationLatency(d time.Duration) { m.validationLatency.Observe(d.Seconds()) }

// IncDegradedMode implements internal/validator.Recorder.
func (m *Metrics) IncDegradedMode() { m.degradedModeTotal.Inc() }

// ObserveDrainDuration implements internal/reconciliation.DrainRecorder.
func (m *Metrics) ObserveDrainDuration(d time.Duration) { m.reconciliationDrainSeconds.Observe(d.Seconds()) }

// IncBudgetExhausted implements internal/promotion.BudgetRecorder.
func (m *Metrics) IncBudgetExhausted(kingID string) { m.promotionBudgetExhausted.WithLabelValues(kingID).Inc() }
