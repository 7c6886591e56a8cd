package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics contains Prometheus metrics for the trigger dispatch graph.
type DispatchMetrics struct {
	TriggersFired  *prometheus.CounterVec
	TasksCreated   prometheus.Counter
	TopicsNotified prometheus.Counter
	ClipsRequested prometheus.Counter
	registry       *prometheus.Registry
}

// NewDispatchMetrics creates a new instance of DispatchMetrics registered
// against the given registry.
func NewDispatchMetrics(registry *prometheus.Registry) (*DispatchMetrics, error) {
	m := &DispatchMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
	}
	return m, nil
}

func (m *DispatchMetrics) initMetrics() {
	m.TriggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_triggers_fired_total",
		Help: "Total number of trigger keys that produced at least one dispatch, by trigger",
	}, []string{"trigger"})

	m.TasksCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_tasks_created_total",
		Help: "Total number of analysis tasks created",
	})

	m.TopicsNotified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_topics_notified_total",
		Help: "Total number of topic publishes for analysis dispatch",
	})

	m.ClipsRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_clips_requested_total",
		Help: "Total number of clip-generation requests published",
	})
}

// Collect implements the prometheus.Collector interface.
func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.TriggersFired.Collect(ch)
	ch <- m.TasksCreated
	ch <- m.TopicsNotified
	ch <- m.ClipsRequested
}

// Describe implements the prometheus.Collector interface.
func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.TriggersFired.Describe(ch)
	ch <- m.TasksCreated.Desc()
	ch <- m.TopicsNotified.Desc()
	ch <- m.ClipsRequested.Desc()
}
