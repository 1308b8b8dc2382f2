package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert workflow subsystem.
type Metrics struct {
	SignalsTotal         *prometheus.CounterVec
	AlertsTotal          *prometheus.CounterVec
	TransitionsTotal     *prometheus.CounterVec
	ReviewLatency        prometheus.Histogram
	SweepDuration        prometheus.Histogram
	SweepEscalations     prometheus.Histogram
	NotifyFailuresTotal  *prometheus.CounterVec
	PendingOverflowTotal prometheus.Counter
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_signals_total",
			Help: "Total detection signals by admission result.",
		}, []string{"result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_alerts_total",
			Help: "Total alerts created by type and priority.",
		}, []string{"type", "priority"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_transitions_total",
			Help: "Total status transitions by target status and trigger.",
		}, []string{"to", "trigger"}),
		ReviewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_review_latency_seconds",
			Help:    "Seconds from alert creation to dispatcher review.",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10), // 15s .. ~2.1h
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_sweep_duration_seconds",
			Help:    "Duration of escalation sweeps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}),
		SweepEscalations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_sweep_escalations",
			Help:    "Alerts auto-escalated per sweep.",
			Buckets: prometheus.LinearBuckets(0, 1, 16), // 0 .. 15
		}),
		NotifyFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_notify_failures_total",
			Help: "Total notification delivery failures by sink.",
		}, []string{"sink"}),
		PendingOverflowTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_pending_overflow_total",
			Help: "Times the pending backlog exceeded its advisory limit.",
		}),
	}

	reg.MustRegister(
		m.SignalsTotal,
		m.AlertsTotal,
		m.TransitionsTotal,
		m.ReviewLatency,
		m.SweepDuration,
		m.SweepEscalations,
		m.NotifyFailuresTotal,
		m.PendingOverflowTotal,
	)

	return m
}
