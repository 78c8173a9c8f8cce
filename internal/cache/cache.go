// Package cache provides stores for upstream response payloads.
package cache

import (
	"context"
	"time"
)

// Cache is the interface for response caching. Values are opaque bytes;
// an entry is absent once its TTL has elapsed.
type Cache interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the given TTL, overwriting any previous value.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Delete removes a cached value.
	Delete(ctx context.Context, key string)
	// Purge removes all cached values.
	Purge(ctx context.Context)
}
