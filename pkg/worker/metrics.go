package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetcache_fetch_events_total",
		Help: "Total intercepted requests by strategy and outcome",
	}, []string{"strategy", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assetcache_fetch_duration_seconds",
		Help:    "Time to resolve an intercepted request by strategy",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"strategy"})

	backgroundWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetcache_background_writes_total",
		Help: "Total runtime cache writes by result",
	}, []string{"result"})

	stalePartitionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assetcache_stale_partitions_deleted_total",
		Help: "Total partitions deleted on activation",
	})
)
