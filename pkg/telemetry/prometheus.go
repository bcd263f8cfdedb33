package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScrapeMetrics holds the Prometheus metrics for a scraper run. It implements
// the retriever's Metrics interface so every upstream request is observed.
type ScrapeMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	bytesDownloaded prometheus.Counter
	retriesTotal    prometheus.Counter
	replayTotal     *prometheus.CounterVec
	breakerState    prometheus.Gauge

	datasetsGenerated prometheus.Counter
	countriesSkipped  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewScrapeMetrics creates a metrics instance with its own registry.
func NewScrapeMetrics() *ScrapeMetrics {
	registry := prometheus.NewRegistry()

	m := &ScrapeMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_upstream_requests_total",
				Help: "Upstream requests by final HTTP status",
			},
			[]string{"status"},
		),
		requestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_upstream_request_duration_seconds",
				Help:    "Upstream request latency including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		bytesDownloaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_upstream_bytes_total",
				Help: "Response bytes downloaded from the feature service",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_upstream_retries_total",
				Help: "Retry attempts against the feature service",
			},
		),
		replayTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_replay_reads_total",
				Help: "Replay-mode reads by hit/miss",
			},
			[]string{"hit"},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_upstream_breaker_state",
				Help: "Circuit breaker state toward the feature service (0=closed, 1=half-open, 2=open)",
			},
		),
		datasetsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_datasets_generated_total",
				Help: "Datasets generated during the run",
			},
		),
		countriesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_countries_skipped_total",
				Help: "Countries skipped by reason",
			},
			[]string{"reason"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.bytesDownloaded,
		m.retriesTotal,
		m.replayTotal,
		m.breakerState,
		m.datasetsGenerated,
		m.countriesSkipped,
	)

	return m
}

// ObserveRequest records one upstream request.
func (m *ScrapeMetrics) ObserveRequest(status int, duration time.Duration, bytes int) {
	m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.requestDuration.Observe(duration.Seconds())
	m.bytesDownloaded.Add(float64(bytes))
}

// ObserveRetry records one retry attempt.
func (m *ScrapeMetrics) ObserveRetry() {
	m.retriesTotal.Inc()
}

// ObserveReplay records a replay-mode read.
func (m *ScrapeMetrics) ObserveReplay(hit bool) {
	m.replayTotal.WithLabelValues(strconv.FormatBool(hit)).Inc()
}

// ObserveBreakerState records the circuit breaker state after a request.
func (m *ScrapeMetrics) ObserveBreakerState(state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.Set(value)
}

// DatasetGenerated records a completed dataset.
func (m *ScrapeMetrics) DatasetGenerated() {
	m.datasetsGenerated.Inc()
}

// CountrySkipped records a skipped country.
func (m *ScrapeMetrics) CountrySkipped(reason string) {
	m.countriesSkipped.WithLabelValues(reason).Inc()
}

// Handler returns an HTTP handler exposing the registry.
func (m *ScrapeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
