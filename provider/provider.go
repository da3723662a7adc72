// Package provider defines the key/value backend used by entcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// The backend has no invalidation semantics of its own. Containers, sub-maps,
// associations and generations are layered on top by entcache.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry.
	// May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Exister is implemented by providers that can answer "contains" without
// transferring the value.
type Exister interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Contains reports whether key is present, using Exister when available.
func Contains(ctx context.Context, p Provider, key string) (bool, error) {
	if e, ok := p.(Exister); ok {
		return e.Exists(ctx, key)
	}
	_, ok, err := p.Get(ctx, key)
	return ok, err
}
