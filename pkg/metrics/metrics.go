// Package metrics exposes the Prometheus registry of the asset cache.
// All metrics are defined in their respective packages (cache, client,
// precache, worker, lifecycle, proxy) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the exposition handler and documentation for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the asset cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics exposition handler.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Storage Metrics (pkg/cache):
//   - assetcache_cache_hits_total{layer} (Counter): Lookups answered by a partition
//   - assetcache_cache_misses_total{layer} (Counter): Lookups without an entry
//   - assetcache_cache_writes_total{layer} (Counter): Entries written
//   - assetcache_cache_errors_total{layer, operation} (Counter): Backend errors
//   - assetcache_partitions_deleted_total{layer} (Counter): Partitions deleted
//
// Network Metrics (pkg/client):
//   - assetcache_network_requests_total{type, status} (Counter): Fetches by provenance and status
//   - assetcache_network_request_duration_seconds{mode} (Histogram): Fetch duration by request mode
//   - assetcache_network_errors_total{class} (Counter): Rejected fetches (network, timeout, canceled, cors)
//
// Precache Metrics (pkg/precache):
//   - assetcache_precache_entries_total{result} (Counter): Manifest entries fetched
//   - assetcache_precache_duration_seconds (Histogram): Manifest install duration
//
// Controller Metrics (pkg/worker):
//   - assetcache_fetch_events_total{strategy, outcome} (Counter): Intercepted requests
//   - assetcache_fetch_duration_seconds{strategy} (Histogram): Time to resolve a request
//   - assetcache_background_writes_total{result} (Counter): Runtime cache writes
//   - assetcache_stale_partitions_deleted_total (Counter): Partitions pruned on activation
//
// Lifecycle Metrics (pkg/lifecycle):
//   - assetcache_lifecycle_events_total{event, result} (Counter): install, activate, restore
//   - assetcache_active_controller_info{version} (Gauge): 1 for the active version
//
// HTTP Metrics (pkg/proxy):
//   - assetcache_http_requests_total{outcome, code} (Counter): Proxied requests
//
// Example Prometheus Queries:
//
//   # Offline hit rate
//   sum(rate(assetcache_fetch_events_total{outcome="served-from-cache"}[5m])) /
//   sum(rate(assetcache_fetch_events_total{outcome!="passthrough"}[5m]))
//
//   # Requests nobody could answer
//   rate(assetcache_fetch_events_total{outcome="failed"}[5m])
//
//   # Failed installs
//   increase(assetcache_lifecycle_events_total{event="install",result="error"}[1h])
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(assetcache_network_request_duration_seconds_bucket[5m]))
