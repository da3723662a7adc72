// Package entcache caches entity-derived computations (query results,
// prefetched property values, property specifications) on top of an
// arbitrary byte store, and coordinates their invalidation when the
// underlying entity changes.
//
// Components:
//   - Provider: byte store with TTL (LRU, Badger, BigCache, Ristretto, Redis).
//   - ContainerStore: named bags of sub-keys sharing one backend entry,
//     written back wholesale, chained through an append-only linked list.
//   - EntityCache: deterministic keys, sub-keyed values and a reverse index
//     (associations) so one Invalidate removes everything derived from a subject.
//   - StatsCollector: counters accumulated in memory, merged into the store on Flush.
//   - GenStore: generation per subject. Invalidate bumps it; deferred writes
//     computed against an older generation are skipped.
//
// Keys:
//
//	<prefix>:<namespace>:<md5(json([version, parts...]))>
//
// Deferred recomputation and change listeners live in the deferred and
// listener packages; read-through caches live in prefetch.
//
// Typical flow:
//
//	c, _ := entcache.New(entcache.Options{Namespace: "smw", Provider: p, Version: 3})
//	defer c.Close(ctx)
//	key := c.Entities().MakeKey("propertyspec", subject)
//	_ = c.Entities().Associate(ctx, subject, key)
//	...
//	_ = c.Entities().Invalidate(ctx, subject) // key and association record are gone
package entcache
