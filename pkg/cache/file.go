package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileCache stores each entry as a single file in a directory.
//
// The file name is derived from the key: path separators and other unsafe
// characters are replaced, and a ".json" suffix is appended, so a key like
// "requests@2.31.0" maps to "requests@2.31.0.json". The content is stored
// verbatim, which keeps cached registry responses human-readable and
// diffable.
//
// Presence of a file is authoritative: FileCache ignores the TTL passed to
// Set and never expires entries. Use Delete or the `pipimi cache clear`
// command to invalidate.
//
// Concurrent writers of the same key are expected to write identical
// content (registry fetches are idempotent per key), so the first-write
// race between two processes sharing a directory is benign.
type FileCache struct {
	dir string
}

// NewFileCache creates a file-based cache in the given directory.
// The directory is created if it doesn't exist.
func NewFileCache(dir string) (Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *FileCache) Dir() string { return c.dir }

// Get retrieves a value from the cache.
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a value in the cache. The ttl is ignored; entries persist
// until deleted.
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return os.WriteFile(c.path(key), data, 0o644)
}

// Delete removes a value from the cache.
func (c *FileCache) Delete(ctx context.Context, key string) error {
	err := os.Remove(c.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close does nothing for the file cache.
func (c *FileCache) Close() error { return nil }

var fileKeyReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, fileKeyReplacer.Replace(key)+".json")
}

var _ Cache = (*FileCache)(nil)
