// Package observability provides Prometheus metrics for the chorus-go service.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/whipbird/chorus-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the service.
type Metrics struct {
	registry   *prometheus.Registry
	MQTT       *metrics.MQTTMetrics
	Ingest     *metrics.IngestMetrics
	Dispatch   *metrics.DispatchMetrics
	Reconciler *metrics.ReconcilerMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	ingestMetrics, err := metrics.NewIngestMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest metrics: %w", err)
	}

	dispatchMetrics, err := metrics.NewDispatchMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch metrics: %w", err)
	}

	reconcilerMetrics, err := metrics.NewReconcilerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		MQTT:       mqttMetrics,
		Ingest:     ingestMetrics,
		Dispatch:   dispatchMetrics,
		Reconciler: reconcilerMetrics,
	}, nil
}

// RegisterHandlers registers the /metrics handler on the given mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Serve starts a blocking HTTP server exposing the metrics endpoint.
func (m *Metrics) Serve(listenAddress string) error {
	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	return http.ListenAndServe(listenAddress, mux)
}
