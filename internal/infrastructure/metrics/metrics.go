// Package metrics exposes Prometheus collectors for catalog collection,
// merging and similarity queries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream fetch metrics
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrishelf_fetch_requests_total",
			Help: "Total number of upstream catalog requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, transient, fatal, not_found
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nutrishelf_fetch_duration_seconds",
			Help:    "Duration of upstream catalog requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nutrishelf_fetch_retries_total",
			Help: "Total number of retried upstream requests",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nutrishelf_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrishelf_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Collection metrics
	PagesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrishelf_pages_collected_total",
			Help: "Total number of listing pages walked",
		},
		[]string{"category"},
	)

	RecordsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nutrishelf_records_stored_total",
			Help: "Total number of product observations persisted",
		},
	)

	PayloadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrishelf_payloads_rejected_total",
			Help: "Total number of raw payloads the normalizer rejected",
		},
		[]string{"reason"},
	)

	CollectionGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrishelf_collection_gaps_total",
			Help: "Total number of pages or articles skipped after retries",
		},
		[]string{"kind"},
	)

	// Dataset and similarity metrics
	DatasetProducts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nutrishelf_dataset_products",
			Help: "Number of products in the consolidated dataset",
		},
	)

	SimilarityQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nutrishelf_similarity_query_duration_seconds",
			Help:    "Duration of similarity queries in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	SimilarityCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nutrishelf_similarity_cache_hits_total",
			Help: "Total number of similarity results served from cache",
		},
	)

	SimilarityCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nutrishelf_similarity_cache_misses_total",
			Help: "Total number of similarity results computed",
		},
	)

	// HTTP metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrishelf_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nutrishelf_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordFetch records one upstream request
func RecordFetch(endpoint, outcome string, duration time.Duration) {
	FetchRequests.WithLabelValues(endpoint, outcome).Inc()
	FetchDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordGap records a skipped page or article
func RecordGap(kind string) {
	CollectionGaps.WithLabelValues(kind).Inc()
}

// RecordRejection records a payload the normalizer refused
func RecordRejection(reason string) {
	PayloadsRejected.WithLabelValues(reason).Inc()
}

// RecordAPIRequest records one served HTTP request
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
