// Package metrics exposes the Prometheus registry of the search service.
// All metrics are defined in their respective packages (search, cache,
// ratelimit, singleflight) via promauto and register with the default
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Search Metrics (pkg/search):
//   - search_requests_total{status, source, code} (Counter): Searches by outcome
//   - search_request_duration_seconds (Histogram): End-to-end search duration
//   - search_fetch_attempts_total{result} (Counter): Source attempts (success, transient, permanent)
//   - search_retries_total{error_class} (Counter): Retry attempts by error class
//   - search_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - search_retry_exhausted_total{error_class} (Counter): Fetches that exhausted all attempts
//   - search_stale_fallbacks_total (Counter): Searches answered with stale data
//
// Cache Metrics (pkg/cache):
//   - search_cache_hits_total{backend} (Counter): Fresh hits (memory, redis)
//   - search_cache_misses_total{backend} (Counter): Absent or expired entries
//   - search_cache_stale_reads_total{backend} (Counter): Entries served by GetStale
//   - search_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - search_rate_limit_denied_total{scope} (Counter): Denials by scope (identity, session, global)
//   - search_rate_limit_sessions_active (Gauge): Sessions with a search in flight
//   - search_rate_limit_stats_dropped_total (Counter): Stats events dropped by the async recorder
//
// Single-flight Metrics (pkg/singleflight):
//   - search_singleflight_calls_total{role} (Counter): Callers by role (initiator, waiter, detached)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(search_cache_hits_total[5m])) /
//   (sum(rate(search_cache_hits_total[5m])) + sum(rate(search_cache_misses_total[5m])))
//
//   # Coalescing ratio (callers served per source fetch)
//   sum(rate(search_singleflight_calls_total{role!="detached"}[5m])) /
//   sum(rate(search_singleflight_calls_total{role="initiator"}[5m]))
//
//   # Stale Share
//   rate(search_stale_fallbacks_total[5m]) / rate(search_requests_total{status="ok"}[5m])
//
//   # P95 Search Latency
//   histogram_quantile(0.95, rate(search_request_duration_seconds_bucket[5m]))
