package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors.
type Metrics struct {
	// QueueDepth tracks the size of each queue channel plus the DLQ.
	QueueDepth *prometheus.GaugeVec
	// JobsProcessed counts settled jobs by kind and terminal status.
	JobsProcessed *prometheus.CounterVec
}

// NewMetrics creates and registers the worker collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs per queue channel.",
		}, []string{"channel"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total settled jobs by kind and status.",
		}, []string{"kind", "status"}),
	}
	reg.MustRegister(m.QueueDepth, m.JobsProcessed)
	return m
}
