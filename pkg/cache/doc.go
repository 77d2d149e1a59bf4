// Package cache provides the search result cache with stale-read support.
//
// A Store maps a normalized query.Query to at most one Entry:
//
// - Get returns the entry only while it is fresh (5 minutes by default)
// - GetStale returns the last stored entry even after expiry
// - Put replaces the entry; stored entries are never mutated in place
//
// Two backends are provided:
//
//   - MemoryStore: bounded in-process store (ristretto); the entry count
//     bound keeps growth in check when the track × location × radius key
//     space is large
//   - RedisStore: shared between instances; entries are kept for a stale
//     retention period so a restarted instance can still fall back
//
// # Basic Usage
//
//	store, err := cache.NewMemoryStore(cache.DefaultMaxEntries)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	entry, err := store.Get(ctx, q)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - fetch from the source
//		records, err := fetcher.Fetch(ctx, q)
//		...
//		_ = store.Put(ctx, q, cache.NewEntry(records, time.Now(), cache.DefaultTTL))
//	}
//
// # Stale Fallback
//
//	if entry, err := store.GetStale(ctx, q); err == nil {
//		return entry.AsStale()
//	}
//
// # Metrics
//
//   - search_cache_hits_total{backend} - Fresh hits
//   - search_cache_misses_total{backend} - Misses (absent or expired)
//   - search_cache_stale_reads_total{backend} - Stale reads
//   - search_cache_errors_total{operation} - Backend errors
package cache
