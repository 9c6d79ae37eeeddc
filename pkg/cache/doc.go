// Package cache provides the in-process query cache.
//
// A Store maps query keys to entries carrying two windows measured from the
// time the entry was written:
//
//   - StaleAfter: until then the entry is fresh and served without a fetch;
//     afterwards it is stale but still usable while a refresh runs.
//   - EvictAfter: afterwards the entry is dead. Get no longer returns it and
//     the Sweeper removes it on its next tick.
//
// If StaleAfter exceeds EvictAfter an entry may be evicted without ever
// being reported stale; eviction wins.
//
// # Basic Usage
//
//	store := cache.NewStore()
//	sweeper := cache.NewSweeper(store, time.Minute, logger)
//	sweeper.Start(ctx)
//	defer sweeper.Stop()
//
//	store.Set("user:1", user, 30*time.Second, 5*time.Minute)
//	if entry, ok := store.Get("user:1"); ok && entry.IsFresh(store.Now()) {
//		// serve entry.Value
//	}
//
// # Keys
//
// Keys are opaque strings. Key builds deterministic ones from structured
// parts:
//
//	cache.Key{Resource: "/users/{id}", Params: map[string]string{"id": "1"}}.String()
//	// q:users/{id}:id=1
//
// # Cross-process invalidation
//
// RedisBus publishes invalidated keys on a Redis pub/sub channel so that
// other processes sharing the same upstream can drop their copies. Entries
// themselves are never written to Redis.
//
// # Metrics
//
//   - query_cache_hits_total{freshness} - Cache hits (fresh, stale)
//   - query_cache_misses_total - Cache misses
//   - query_cache_entries - Entries currently held
//   - query_cache_evictions_total{reason} - Removals (sweep, delete, clear)
//   - query_cache_sweeper_panics_total - Recovered sweeper panics
//   - query_cache_invalidations_total{direction} - Bus messages (sent, received)
package cache
