// Package cache provides the versioned response store used by the offline
// asset cache controller.
//
// The store is organised in named partitions. Each partition maps a request
// identity (GET + absolute URL) to an immutable snapshot of a response:
//
//   - Partitions are created on Open and listed in creation order
//   - Put overwrites the snapshot for a key (last write wins)
//   - PutAll commits a batch atomically (used by the manifest install)
//   - Storage.Match searches all partitions, Partition.Match only one
//   - Whole partitions are deleted during version rotation; there is no
//     per-entry TTL or size eviction
//
// # Backends
//
//	storage := cache.NewMemoryStorage()
//	storage := cache.NewRedisStorage(redisClient, "assetcache")
//	storage, err := cache.NewSQLiteStorage("asset-cache.db")
//
// # Responses
//
// A Response body can be consumed once. Anything that needs to both store a
// response and hand it back to a caller must Clone it first:
//
//	copy, err := resp.Clone()
//	if err != nil {
//		return err
//	}
//	if err := partition.Put(ctx, req, copy); err != nil {
//		return err
//	}
//	return resp
//
// # Metrics
//
//   - assetcache_cache_hits_total{layer} - Cache hits by backend
//   - assetcache_cache_misses_total{layer} - Cache misses by backend
//   - assetcache_cache_writes_total{layer} - Snapshots written
//   - assetcache_cache_errors_total{layer,operation} - Backend errors
//   - assetcache_partitions_deleted_total{layer} - Partitions removed
package cache
