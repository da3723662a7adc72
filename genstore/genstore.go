// Package genstore keeps one generation counter per subject.
//
// EntityCache.Invalidate bumps the counter of the invalidated subject.
// Prefetchers snapshot it before computing a value and skip the deferred
// write when it moved, so a result computed before an invalidation is never
// persisted after it.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore when
// several processes share one backend.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, subject string) (uint64, error)
	// SnapshotMany returns gens for many subjects; missing => 0.
	SnapshotMany(ctx context.Context, subjects []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, subject string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
