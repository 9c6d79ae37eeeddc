package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for query units.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "query_fetches_total",
		Help: "Total fetch lifecycles by outcome",
	}, []string{"outcome"}) // "success", "error", "cancelled", "superseded"

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "query_fetch_duration_seconds",
		Help:    "Fetch lifecycle duration in seconds, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	sharedLoadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "query_shared_loads_total",
		Help: "Total fetches served by joining another unit's in-flight load",
	})

	activeUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "query_active_units",
		Help: "Number of open query units",
	})
)
