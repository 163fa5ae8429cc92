package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricPaymentInitiationsTotal = "payment_initiations_total"
	MetricPaymentCallbacksTotal   = "payment_callbacks_total"
	MetricPaymentCompletionsTotal = "payment_completions_total"
	MetricReconcileConflictsTotal = "payment_reconcile_conflicts_total"
	MetricSweepRunsTotal          = "payment_sweep_runs_total"
	MetricSweepReconciledTotal    = "payment_sweep_reconciled_total"
)

// Metrics contains Prometheus metrics for the payment pipeline.
// All operations are thread-safe.
type Metrics struct {
	initiations        *prometheus.CounterVec
	callbacks          *prometheus.CounterVec
	completions        *prometheus.CounterVec
	reconcileConflicts prometheus.Counter
	sweepRuns          prometheus.Counter
	sweepReconciled    prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		initiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentInitiationsTotal,
				Help: "Total number of payment initiation attempts by purpose and result",
			},
			[]string{"purpose", "result"},
		),
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentCallbacksTotal,
				Help: "Total number of gateway callback and query reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentCompletionsTotal,
				Help: "Total number of completion dispatches by purpose and status",
			},
			[]string{"purpose", "status"},
		),
		reconcileConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricReconcileConflictsTotal,
				Help: "Total number of reconciliation attempts that lost the terminal-transition race",
			},
		),
		sweepRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricSweepRunsTotal,
				Help: "Total number of stale-pending sweep runs",
			},
		),
		sweepReconciled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricSweepReconciledTotal,
				Help: "Total number of records resolved to a terminal status by the sweep",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.initiations,
		m.callbacks,
		m.completions,
		m.reconcileConflicts,
		m.sweepRuns,
		m.sweepReconciled,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncInitiation increments the initiation counter.
// result: "initiated", "invalid", "gateway_error", or "store_error".
func (m *Metrics) IncInitiation(purpose Purpose, result string) {
	m.initiations.WithLabelValues(string(purpose), result).Inc()
}

// IncCallback increments the reconciliation outcome counter.
func (m *Metrics) IncCallback(outcome string) {
	m.callbacks.WithLabelValues(outcome).Inc()
}

// IncCompletion increments the completion dispatch counter.
// status: "applied", "failed", or "skipped".
func (m *Metrics) IncCompletion(purpose Purpose, status string) {
	m.completions.WithLabelValues(string(purpose), status).Inc()
}

// IncReconcileConflict increments the lost-race counter.
func (m *Metrics) IncReconcileConflict() {
	m.reconcileConflicts.Inc()
}

// IncSweepRun increments the sweep run counter.
func (m *Metrics) IncSweepRun() {
	m.sweepRuns.Inc()
}

// AddSweepReconciled adds to the sweep reconciled counter.
func (m *Metrics) AddSweepReconciled(n int) {
	m.sweepReconciled.Add(float64(n))
}
