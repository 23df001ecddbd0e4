package reconciliation

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconciliation activity.
type Metrics struct {
	runs    *prometheus.CounterVec
	created *prometheus.CounterVec
	skipped prometheus.Counter
}

// NewMetrics registers the reconciliation collectors with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimrecon_auto_reconcile_runs_total",
				Help: "Auto-reconcile runs by outcome",
			},
			[]string{"outcome"},
		),
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimrecon_reconciliations_created_total",
				Help: "Reconciliations created by variance reason",
			},
			[]string{"reason"},
		),
		skipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "claimrecon_reconciliations_skipped_total",
				Help: "Claims skipped because a reconciliation already existed",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.created, m.skipped)
	}
	return m
}

func (m *Metrics) observeRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCreated(reason string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeSkipped(n int) {
	if m == nil {
		return
	}
	m.skipped.Add(float64(n))
}
