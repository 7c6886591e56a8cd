package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the ingestion path.
type IngestMetrics struct {
	UploadsAccepted  prometheus.Counter
	UploadsRejected  *prometheus.CounterVec
	ObjectsMoved     *prometheus.CounterVec
	RecordsCreated   prometheus.Counter
	RecordsDuplicate prometheus.Counter
	RecordsGated     *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewIngestMetrics creates a new instance of IngestMetrics registered against
// the given registry.
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.UploadsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_uploads_accepted_total",
		Help: "Total number of uploads that passed path grammar validation",
	})

	m.UploadsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_uploads_rejected_total",
		Help: "Total number of uploads rejected, by reason",
	}, []string{"reason"})

	m.ObjectsMoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_objects_moved_total",
		Help: "Total number of blobs relocated, by destination area",
	}, []string{"destination"})

	m.RecordsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_records_created_total",
		Help: "Total number of audio records created",
	})

	m.RecordsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_records_duplicate_total",
		Help: "Total number of create attempts that hit an existing record",
	})

	m.RecordsGated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_gated_total",
		Help: "Total number of uploads dropped by the recorder gate, by reason",
	}, []string{"reason"})
}

// Collect implements the prometheus.Collector interface.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.UploadsAccepted
	m.UploadsRejected.Collect(ch)
	m.ObjectsMoved.Collect(ch)
	ch <- m.RecordsCreated
	ch <- m.RecordsDuplicate
	m.RecordsGated.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.UploadsAccepted.Desc()
	m.UploadsRejected.Describe(ch)
	m.ObjectsMoved.Describe(ch)
	ch <- m.RecordsCreated.Desc()
	ch <- m.RecordsDuplicate.Desc()
	m.RecordsGated.Describe(ch)
}
