package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by freshness
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_hits_total",
			Help: "Total number of query cache hits",
		},
		[]string{"freshness"}, // "fresh", "stale"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "query_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	// CacheEntries tracks the number of entries held across all stores
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "query_cache_entries",
			Help: "Current number of entries in the query cache",
		},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_evictions_total",
			Help: "Total number of entries removed from the query cache",
		},
		[]string{"reason"}, // "sweep", "delete", "clear"
	)

	// SweeperPanics tracks sweeps that panicked and were recovered
	SweeperPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "query_cache_sweeper_panics_total",
			Help: "Total number of recovered panics in the eviction sweeper",
		},
	)

	// InvalidationsPublished tracks invalidations sent on the bus
	InvalidationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_invalidations_total",
			Help: "Total number of cross-process invalidation messages",
		},
		[]string{"direction"}, // "sent", "received"
	)
)
