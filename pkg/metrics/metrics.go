// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	LeadsIngestedTotal      *prometheus.CounterVec
	DeliveriesTotal         *prometheus.CounterVec
	HandlerDuration         *prometheus.HistogramVec
	PublishTotal            *prometheus.CounterVec
	CorrelationLookupsTotal *prometheus.CounterVec
	ResolutionsTotal        *prometheus.CounterVec
	QueueDepth              *prometheus.GaugeVec
	RecreateDiscardedTotal  *prometheus.CounterVec
	FactsWrittenTotal       *prometheus.CounterVec
	DocumentsIndexedTotal   prometheus.Counter
	PagesCrawledTotal       prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		LeadsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_ingested_total",
				Help: "Leads accepted by the ingestion service by status (published, correlation_failed, publish_failed).",
			},
			[]string{"status"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_deliveries_total",
				Help: "Deliveries handled per queue by outcome (ack, requeue, discard, dead_letter).",
			},
			[]string{"queue", "outcome"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stage_handler_duration_seconds",
				Help:    "Time spent handling one delivery, per stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_publish_total",
				Help: "Publishes per exchange by status (ok, error).",
			},
			[]string{"exchange", "status"},
		),
		CorrelationLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_lookups_total",
				Help: "Correlation store lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolutions_total",
				Help: "Entity resolution outcomes per matcher (accepted, below_threshold, inactive, unconfirmed, no_candidates).",
			},
			[]string{"matcher", "outcome"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bus_queue_depth",
				Help: "Ready messages per queue, including the dead-letter queue.",
			},
			[]string{"queue"},
		),
		RecreateDiscardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_recreate_discarded_total",
				Help: "Messages discarded by explicit queue recreation.",
			},
			[]string{"queue"},
		),
		FactsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_facts_written_total",
				Help: "Enrichment facts upserted per fact kind.",
			},
			[]string{"kind"},
		),
		DocumentsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lead_documents_indexed_total",
				Help: "Lead documents written to the document index.",
			},
		),
		PagesCrawledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "website_pages_crawled_total",
				Help: "Website pages fetched by the content extractor.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.LeadsIngestedTotal,
		m.DeliveriesTotal,
		m.HandlerDuration,
		m.PublishTotal,
		m.CorrelationLookupsTotal,
		m.ResolutionsTotal,
		m.QueueDepth,
		m.RecreateDiscardedTotal,
		m.FactsWrittenTotal,
		m.DocumentsIndexedTotal,
		m.PagesCrawledTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered on a throwaway registry, for tests and
// tools that do not serve /metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
