// Package cache stores fetched sensor-data pages keyed by filter fingerprint
// and page index, and decides whether a stored page is still fresh.
//
// Features:
//
// - In-memory page store with bounded fingerprint retention
// - Redis page store for sharing pages between API replicas
// - SQLite page store for single-node persistence across restarts
// - Monotonic FetchedAt stamping on every write
// - TTL freshness policy (stale pages are served, never deleted)
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewMemoryStore()
//	fp := filter.Spec{Location: "north-station"}.Fingerprint()
//
//	page, err := store.Get(ctx, fp, 0)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - fetch from the remote store
//	}
//
// # Shared Store
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient, time.Hour)
//
// # Durable Store
//
//	store, err := cache.OpenSQLiteStore("/var/lib/sensordata/pages.db")
//	defer store.Close()
//	store.Prune(ctx, time.Now().Add(-24*time.Hour))
//
// # Freshness
//
//	fresh := cache.NewFreshness(5 * time.Minute)
//	if fresh.IsExpired(page) {
//		// Serve page labeled stale and revalidate
//	}
//
// # Metrics
//
//   - sensor_cache_hits_total{layer} - Page store hits
//   - sensor_cache_misses_total - Page store misses
//   - sensor_cache_pages{layer} - Stored pages
//   - sensor_cache_evictions_total - Fingerprints evicted from memory
//   - sensor_cache_errors_total{operation} - Page store operation errors
//
// Contiguity of pages (page n only after pages 0..n-1) is kept by the
// pagination package, which is the only writer.
package cache
