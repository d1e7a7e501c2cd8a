// Package metrics defines the Prometheus collectors used by the detector,
// the index backends and the ingestion consumer, and exposes an HTTP handler
// for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	DocumentsAddedTotal    prometheus.Counter
	SimilarDocumentsTotal  *prometheus.CounterVec
	SketchSize             prometheus.Histogram
	CandidateCount         prometheus.Histogram
	IndexOperationsTotal   *prometheus.CounterVec
	IndexOperationDuration *prometheus.HistogramVec
	IndexDocuments         *prometheus.GaugeVec
	IngestMessagesTotal    *prometheus.CounterVec
	SegmentWritesTotal     *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	registry               *prometheus.Registry
}

// New creates all collectors and registers them on a fresh registry, so
// several instances can coexist in one process (tests, multiple indices).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		DocumentsAddedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shingles_documents_added_total",
				Help: "Total documents added to the detector.",
			},
		),
		SimilarDocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shingles_similar_documents_total",
				Help: "Documents linked to a master document, by kind (duplicate, near_duplicate).",
			},
			[]string{"kind"},
		),
		SketchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shingles_sketch_size",
				Help:    "Number of hashes per document sketch.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
			},
		),
		CandidateCount: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shingles_candidate_count",
				Help:    "Candidate documents scored per added document.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		IndexOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shingles_index_operations_total",
				Help: "Index operations by backend, operation and status.",
			},
			[]string{"backend", "operation", "status"},
		),
		IndexOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shingles_index_operation_duration_seconds",
				Help:    "Index operation latency in seconds.",
				Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"backend", "operation"},
		),
		IndexDocuments: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shingles_index_documents",
				Help: "Number of documents stored per index.",
			},
			[]string{"index"},
		),
		IngestMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shingles_ingest_messages_total",
				Help: "Kafka document messages by status (ok, malformed, failed, publish_failed).",
			},
			[]string{"status"},
		),
		SegmentWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shingles_segment_writes_total",
				Help: "Segment snapshot writes by status.",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shingles_http_requests_total",
				Help: "Requests to the metrics and health endpoints.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shingles_http_request_duration_seconds",
				Help:    "Latency of the metrics and health endpoints in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shingles_http_requests_in_flight",
				Help: "Requests currently being served.",
			},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler for m's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
