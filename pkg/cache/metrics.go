package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis, sqlite)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetcache_cache_hits_total",
			Help: "Total number of cache partition hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetcache_cache_misses_total",
			Help: "Total number of cache partition misses",
		},
		[]string{"layer"},
	)

	// CacheWrites tracks snapshots written by layer
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetcache_cache_writes_total",
			Help: "Total number of response snapshots written",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetcache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"layer", "operation"}, // "open", "match", "put", "delete", "keys"
	)

	// PartitionsDeleted tracks removed partitions
	PartitionsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetcache_partitions_deleted_total",
			Help: "Total number of cache partitions deleted",
		},
		[]string{"layer"},
	)
)
