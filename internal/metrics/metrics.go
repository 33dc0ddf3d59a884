package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Submissions         prometheus.Counter
	SubmissionsRejected prometheus.Counter
	Plays               prometheus.Counter
	Removals            prometheus.Counter
	Reorders            prometheus.Counter
	Snapshots           prometheus.Counter
	ListenerFaults      prometheus.Counter
	PersistErrors       prometheus.Counter

	QueueLength prometheus.Gauge
	Listeners   prometheus.Gauge
}

// New creates and registers all metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_submissions_total",
				Help: "Total number of accepted queue submissions",
			},
		),
		SubmissionsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_submissions_rejected_total",
				Help: "Total number of submissions rejected for an unknown song",
			},
		),
		Plays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_plays_total",
				Help: "Total number of entries advanced into the play history",
			},
		),
		Removals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_removals_total",
				Help: "Total number of entries removed before playing",
			},
		),
		Reorders: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_reorders_total",
				Help: "Total number of swap and move operations",
			},
		),
		Snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_snapshots_broadcast_total",
				Help: "Total number of state snapshots broadcast to listeners",
			},
		),
		ListenerFaults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_listener_faults_total",
				Help: "Total number of listeners dropped for failing to drain snapshots",
			},
		),
		PersistErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rotation_persist_errors_total",
				Help: "Total number of state persistence failures",
			},
		),
		QueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rotation_queue_length",
				Help: "Current number of pending queue entries",
			},
		),
		Listeners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rotation_listeners",
				Help: "Current number of subscribed listeners",
			},
		),
	}

	reg.MustRegister(
		m.Submissions,
		m.SubmissionsRejected,
		m.Plays,
		m.Removals,
		m.Reorders,
		m.Snapshots,
		m.ListenerFaults,
		m.PersistErrors,
		m.QueueLength,
		m.Listeners,
	)

	return m
}
