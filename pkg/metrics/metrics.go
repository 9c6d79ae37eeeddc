// Package metrics provides the Prometheus registry and HTTP handler for the
// query cache. All metrics are defined in their respective packages (cache,
// query, retry) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the query cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - query_cache_hits_total{freshness} (Counter): Cache hits by freshness (fresh, stale)
//   - query_cache_misses_total (Counter): Cache misses
//   - query_cache_entries (Gauge): Entries currently held
//   - query_cache_evictions_total{reason} (Counter): Removals by reason (sweep, delete, clear)
//   - query_cache_sweeper_panics_total (Counter): Recovered sweeper panics
//   - query_cache_invalidations_total{direction} (Counter): Bus messages (sent, received)
//
// Query Metrics (pkg/query):
//   - query_fetches_total{outcome} (Counter): Fetch lifecycles by outcome (success, error, cancelled, superseded)
//   - query_fetch_duration_seconds (Histogram): Lifecycle duration, retries included
//   - query_shared_loads_total (Counter): Fetches served by another unit's in-flight load
//   - query_active_units (Gauge): Open query units
//
// Retry Metrics (pkg/retry):
//   - query_retries_total (Counter): Retry attempts
//   - query_retry_backoff_seconds (Histogram): Backoff durations
//   - query_retry_exhausted_total (Counter): Fetches that exhausted their retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(query_cache_hits_total[5m])) /
//   (sum(rate(query_cache_hits_total[5m])) + sum(rate(query_cache_misses_total[5m])))
//
//   # Stale Serve Ratio
//   rate(query_cache_hits_total{freshness="stale"}[5m]) / sum(rate(query_cache_hits_total[5m]))
//
//   # Superseded Fetch Rate
//   rate(query_fetches_total{outcome="superseded"}[5m])
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(query_fetch_duration_seconds_bucket[5m]))
