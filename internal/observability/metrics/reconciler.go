package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcilerMetrics contains Prometheus metrics for the scheduled job reconciler.
type ReconcilerMetrics struct {
	SweepsRun        prometheus.Counter
	RequestsEnqueued *prometheus.CounterVec
	RequestsFailed   prometheus.Counter
	SweepDuration    prometheus.Histogram
	registry         *prometheus.Registry
}

// NewReconcilerMetrics creates a new instance of ReconcilerMetrics registered
// against the given registry.
func NewReconcilerMetrics(registry *prometheus.Registry) (*ReconcilerMetrics, error) {
	m := &ReconcilerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register reconciler metrics: %w", err)
	}
	return m, nil
}

func (m *ReconcilerMetrics) initMetrics() {
	m.SweepsRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_sweeps_total",
		Help: "Total number of reconciler runs",
	})

	m.RequestsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_requests_enqueued_total",
		Help: "Total number of fit requests enqueued, by sweep",
	}, []string{"sweep"})

	m.RequestsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_requests_failed_total",
		Help: "Total number of fit requests terminated after exhausting retries",
	})

	m.SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciler_sweep_duration_seconds",
		Help:    "Duration of reconciler runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
}

// Collect implements the prometheus.Collector interface.
func (m *ReconcilerMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.SweepsRun
	m.RequestsEnqueued.Collect(ch)
	ch <- m.RequestsFailed
	ch <- m.SweepDuration
}

// Describe implements the prometheus.Collector interface.
func (m *ReconcilerMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.SweepsRun.Desc()
	m.RequestsEnqueued.Describe(ch)
	ch <- m.RequestsFailed.Desc()
	ch <- m.SweepDuration.Desc()
}
