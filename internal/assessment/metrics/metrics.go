package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the assessment core.
type Metrics struct {
	Derivations       *prometheus.CounterVec
	StatusWrites      prometheus.Counter
	CoalescedRuns     prometheus.Counter
	VerdictsApplied   *prometheus.CounterVec
	VerdictsDiscarded prometheus.Counter
	PollerTicks       prometheus.Counter
	ReconcileDuration prometheus.Histogram
}

// New creates and registers all assessment metrics.
func New() *Metrics {
	return &Metrics{
		Derivations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_derivations_total",
			Help: "Status derivations, labelled by resulting status",
		}, []string{"status"}),
		StatusWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compliance_status_writes_total",
			Help: "Persisted status changes (one write per changed value)",
		}),
		CoalescedRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compliance_reconcile_coalesced_total",
			Help: "Mutations that arrived mid-reconciliation and were folded into a trailing rerun",
		}),
		VerdictsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_verification_verdicts_total",
			Help: "Terminal verification verdicts applied, labelled by kind and outcome",
		}, []string{"kind", "outcome"}),
		VerdictsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compliance_verification_verdicts_discarded_total",
			Help: "Verdicts discarded because their evidence was superseded",
		}),
		PollerTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compliance_verification_poll_ticks_total",
			Help: "Polling passes over answers with outstanding verification",
		}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "compliance_reconcile_duration_seconds",
			Help:    "Duration of a single reconciliation pass",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// RecordDerivation counts a derivation by resulting status. Nil-safe so
// metrics stay optional in tests.
func (m *Metrics) RecordDerivation(status string) {
	if m == nil {
		return
	}
	m.Derivations.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStatusWrite() {
	if m == nil {
		return
	}
	m.StatusWrites.Inc()
}

func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedRuns.Inc()
}

func (m *Metrics) RecordVerdict(kind, outcome string) {
	if m == nil {
		return
	}
	m.VerdictsApplied.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordVerdictDiscarded() {
	if m == nil {
		return
	}
	m.VerdictsDiscarded.Inc()
}

func (m *Metrics) RecordPollerTick() {
	if m == nil {
		return
	}
	m.PollerTicks.Inc()
}

func (m *Metrics) ObserveReconcile(seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(seconds)
}
