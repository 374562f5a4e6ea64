// Package cache implements the content-addressed directory store that
// backs every downloaded or built Python distribution spindle handles. It
// is organized as spec.md §6 describes:
//
//	<cache>/
//	  wheels-v<N>/<shard>/<wheel-key>.http
//	  wheels-v<N>/<shard>/<wheel-key>.rev
//	  wheels-v<N>/<shard>/<wheel-key>.lock
//	  archives-v<N>/<archive-id>/        (unzipped wheel payload)
//	  environments-v<N>/<digest>/
//	  built-wheels-v<N>/...
//
// Writers always stage into a sibling temp directory on the same
// filesystem and rename into place; nothing is ever mutated in place.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// cacheVersion is bumped whenever the on-disk layout changes in a backward
// incompatible way.
const cacheVersion = "v2"

// Bucket partitions the cache by content type.
type Bucket string

const (
	BucketWheels       Bucket = "wheels-" + cacheVersion
	BucketArchives     Bucket = "archives-" + cacheVersion
	BucketEnvironments Bucket = "environments-" + cacheVersion
	BucketBuiltWheels  Bucket = "built-wheels-" + cacheVersion
)

// Entry identifies a cache location by bucket, shard and filename.
type Entry struct {
	Bucket   Bucket
	Shard    string
	Filename string
}

// Path returns the entry's absolute path within root.
func (e Entry) Path(root string) string {
	return filepath.Join(root, string(e.Bucket), e.Shard, e.Filename)
}

// Cache is the root of the content-addressed store.
type Cache struct {
	// Root is the cache directory on disk.
	Root string
	// Refresh forces Freshness to report Stale regardless of the stored
	// policy, e.g. in response to --refresh.
	Refresh bool
}

// New creates (or reuses) a cache rooted at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{Root: dir}, nil
}

// Temporary creates a cache rooted at a fresh temp directory, for callers
// that want ephemeral caching. The returned cleanup function removes the
// directory tree.
func Temporary() (*Cache, func() error, error) {
	dir, err := os.MkdirTemp("", "spindle-cache-*")
	if err != nil {
		return nil, nil, err
	}
	return &Cache{Root: dir}, func() error { return os.RemoveAll(dir) }, nil
}

// ShardDir ensures the directory for bucket's shard exists and returns it.
func (c *Cache) ShardDir(bucket Bucket, shard string) (string, error) {
	dir := filepath.Join(c.Root, string(bucket), shard)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", fmt.Errorf("creating cache shard: %w", err)
	}
	return dir, nil
}

// NewArchiveID mints a fresh, collision-free, path-safe archive id. Every
// call returns a distinct id; ids are never reused even if their directory
// is later garbage-collected.
func NewArchiveID() ArchiveID {
	return ArchiveID(uuid.New().String())
}
