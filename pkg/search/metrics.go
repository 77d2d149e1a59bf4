package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for search orchestration.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Total search requests by outcome status, source and error code",
	}, []string{"status", "source", "code"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "search_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 60},
	})

	searchFetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_fetch_attempts_total",
		Help: "Total source fetch attempts by result",
	}, []string{"result"}) // "success", "transient", "permanent"

	searchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	searchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"error_class"})

	searchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	searchStaleFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_stale_fallbacks_total",
		Help: "Total number of searches answered from a stale cache entry",
	})
)
