// Package metrics provides Prometheus metrics for the harvester.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a harvest run.
type Metrics struct {
	// Resolution metrics
	MetadataPagesFetched prometheus.Counter
	MetadataPagesFailed  prometheus.Counter
	ResourcesResolved    prometheus.Counter

	// Download metrics
	ResourcesAttempted prometheus.Counter
	ResourcesSucceeded prometheus.Counter
	ResourcesFailed    *prometheus.CounterVec // by outcome kind

	// Timing
	FetchDuration prometheus.Histogram

	// Pipeline
	InFlightFetches prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g. ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "catalog_harvester"
	}

	m := &Metrics{
		MetadataPagesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_pages_fetched_total",
				Help:      "Total number of catalog metadata pages fetched",
			},
		),
		MetadataPagesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_pages_failed_total",
				Help:      "Total number of catalog metadata pages that failed and were skipped",
			},
		),
		ResourcesResolved: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_resolved_total",
				Help:      "Total number of resource references produced by resolution",
			},
		),
		ResourcesAttempted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_attempted_total",
				Help:      "Total number of resource downloads attempted",
			},
		),
		ResourcesSucceeded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_succeeded_total",
				Help:      "Total number of resource downloads that succeeded",
			},
		),
		ResourcesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_failed_total",
				Help:      "Total number of resource downloads that failed",
			},
			[]string{"kind"},
		),
		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time to fetch one resource",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
			},
		),
		InFlightFetches: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_fetches",
				Help:      "Number of resource fetches currently in flight",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics, or nil when Init was never called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus scraping. It blocks, so
// run it in a goroutine.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(address, mux)
}
