// Package cache provides pluggable byte-blob caching for registry metadata.
//
// The [Cache] interface is implemented by several backends:
//   - file: One file per entry in a directory (the CLI default)
//   - null: No-op cache for tests or --no-cache runs
//   - redis: Redis-backed cache for shared deployments
//   - mongo: MongoDB-backed cache for shared deployments
//
// Entries are opaque byte slices; callers own serialization. Backends that
// support native expiry honor the TTL passed to Set; a TTL of 0 means the
// entry never expires.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte blobs under string keys.
type Cache interface {
	// Get retrieves a value. The second return value reports whether the
	// key was present; a miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A ttl of 0 means the entry never expires.
	// Backends without native expiry may ignore the ttl.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the backend.
	Close() error
}
