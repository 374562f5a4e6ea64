package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spindle-dev/spindle/internal/xerrors"
)

// CacheControl is the outcome of consulting a sidecar's freshness policy.
type CacheControl int

const (
	Stale CacheControl = iota
	Fresh
	AllowStale
)

// HTTPCachePolicy carries the conditional-request metadata needed to
// revalidate a cached response (ETag / Last-Modified / max-age semantics),
// without depending on any particular HTTP client library.
type HTTPCachePolicy struct {
	ETag         string
	LastModified string
	FetchedAt    time.Time
	MaxAge       time.Duration
}

// Freshness reports whether the policy is still usable without a network
// round-trip. forceRefresh models a user-driven `--refresh` flag.
func (p HTTPCachePolicy) Freshness(forceRefresh bool) CacheControl {
	if forceRefresh {
		return Stale
	}
	if p.MaxAge <= 0 {
		return AllowStale
	}
	if time.Since(p.FetchedAt) < p.MaxAge {
		return Fresh
	}
	return Stale
}

// HTTPArchivePointer pairs an HTTP cache-policy record with the Archive it
// validates. It is the `.http` sidecar format.
type HTTPArchivePointer struct {
	Policy  HTTPCachePolicy
	Archive Archive
}

// LocalArchivePointer pairs a local wheel's modification time with the
// Archive built from it. It is the `.rev` sidecar format.
type LocalArchivePointer struct {
	ModTime time.Time
	Archive Archive
}

// sidecar files are binary-encoded via encoding/gob: this format is never
// consumed by any other tool, so there is no wire-format obligation beyond
// round-tripping through this package.

// ReadHTTPPointer reads and decodes the `.http` sidecar for entry. A missing
// file is reported as (zero, false, nil); any other failure is a
// KindCachePointerDecode error.
func (c *Cache) ReadHTTPPointer(entry Entry) (HTTPArchivePointer, bool, error) {
	var ptr HTTPArchivePointer
	ok, err := c.readPointer(entry, ".http", &ptr)
	return ptr, ok, err
}

// WriteHTTPPointer writes ptr to entry's `.http` sidecar via write-then-
// rename, so readers never observe a torn file.
func (c *Cache) WriteHTTPPointer(entry Entry, ptr HTTPArchivePointer) error {
	return c.writePointer(entry, ".http", ptr)
}

// ReadLocalPointer reads and decodes the `.rev` sidecar for entry.
func (c *Cache) ReadLocalPointer(entry Entry) (LocalArchivePointer, bool, error) {
	var ptr LocalArchivePointer
	ok, err := c.readPointer(entry, ".rev", &ptr)
	return ptr, ok, err
}

// WriteLocalPointer writes ptr to entry's `.rev` sidecar.
func (c *Cache) WriteLocalPointer(entry Entry, ptr LocalArchivePointer) error {
	return c.writePointer(entry, ".rev", ptr)
}

func (c *Cache) readPointer(entry Entry, suffix string, out interface{}) (bool, error) {
	path := sidecarPath(c.Root, entry, suffix)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, xerrors.New(xerrors.KindCacheRead, "cache.readPointer", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(out); err != nil {
		return false, xerrors.New(xerrors.KindCachePointerDecode, "cache.readPointer", err)
	}
	return true, nil
}

func (c *Cache) writePointer(entry Entry, suffix string, value interface{}) error {
	path := sidecarPath(c.Root, entry, suffix)
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return xerrors.New(xerrors.KindCacheWrite, "cache.writePointer", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return xerrors.New(xerrors.KindCacheWrite, "cache.writePointer", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return xerrors.New(xerrors.KindCacheWrite, "cache.writePointer", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return xerrors.New(xerrors.KindCacheWrite, "cache.writePointer", err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.New(xerrors.KindCacheWrite, "cache.writePointer", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return xerrors.New(xerrors.KindCacheWrite, "cache.writePointer", err)
	}
	return nil
}

func sidecarPath(root string, entry Entry, suffix string) string {
	return filepath.Join(root, string(entry.Bucket), entry.Shard, entry.Filename+suffix)
}

// EnsureFreshLocal reads the `.rev` pointer for entry and treats it as
// stale when the local wheel's mtime has moved past what was recorded (it
// was rebuilt or replaced in place since), when forceRefresh is set, or
// when its archive directory is missing on disk -- the same
// stateless-coherence guarantee EnsureFresh gives the HTTP-backed path,
// keyed on mtime instead of a conditional-request policy since a local
// path has no ETag/Last-Modified of its own.
func (c *Cache) EnsureFreshLocal(entry Entry, localPath string, forceRefresh bool) (LocalArchivePointer, CacheControl, error) {
	ptr, ok, err := c.ReadLocalPointer(entry)
	if err != nil {
		return LocalArchivePointer{}, Stale, err
	}
	if !ok {
		return LocalArchivePointer{}, Stale, nil
	}
	if !c.Exists(ptr.Archive) {
		return ptr, Stale, nil
	}
	if forceRefresh || c.Refresh {
		return ptr, Stale, nil
	}

	info, err := os.Stat(localPath)
	if err != nil {
		// The source wheel is gone; let the caller re-stat and fail there
		// with a clearer error than a bare Stale verdict would give.
		return ptr, Stale, nil
	}
	if !info.ModTime().Equal(ptr.ModTime) {
		return ptr, Stale, nil
	}
	return ptr, Fresh, nil
}

// EnsureFresh reads the `.http` pointer for entry and, if its archive
// directory is missing on disk (e.g. cache GC ran), forces the caller to
// treat the pointer as stale so it re-runs the download and rewrites the
// pointer, per spec.md's "stateless coherence" rule.
func (c *Cache) EnsureFresh(entry Entry, forceRefresh bool) (HTTPArchivePointer, CacheControl, error) {
	ptr, ok, err := c.ReadHTTPPointer(entry)
	if err != nil {
		return HTTPArchivePointer{}, Stale, err
	}
	if !ok {
		return HTTPArchivePointer{}, Stale, nil
	}
	if !c.Exists(ptr.Archive) {
		return ptr, Stale, nil
	}

	control := ptr.Policy.Freshness(forceRefresh || c.Refresh)
	return ptr, control, nil
}
