package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"

	"github.com/spindle-dev/spindle/internal/xerrors"
)

// ArchiveID is an opaque, collision-free directory name inside the archives
// bucket.
type ArchiveID string

// Archive describes an unzipped wheel living in the archives bucket.
type Archive struct {
	ID       ArchiveID
	Digests  map[string]string // algorithm -> hex digest
	Filename string
}

// ArchivePath resolves id to its on-disk directory. The directory is not
// guaranteed to exist; call Exists first if that matters.
func (c *Cache) ArchivePath(id ArchiveID) string {
	return filepath.Join(c.Root, string(BucketArchives), string(id))
}

// Exists reports whether archive's directory is present on disk.
func (c *Cache) Exists(a Archive) bool {
	info, err := os.Stat(c.ArchivePath(a.ID))
	return err == nil && info.IsDir()
}

// TempGuard owns a staging directory created on the same filesystem as the
// destination bucket. Its Commit method must be called only after the
// directory has been successfully renamed into place; until then, Close
// removes the directory so cancellation never leaves orphaned temp state.
type TempGuard struct {
	dir       string
	committed bool
}

// NewStagingDir creates a fresh temp directory inside bucket, suitable for
// populating before a Persist call. The caller must defer guard.Close().
func (c *Cache) NewStagingDir(bucket Bucket) (*TempGuard, error) {
	root := filepath.Join(c.Root, string(bucket))
	if err := os.MkdirAll(root, 0o777); err != nil {
		return nil, fmt.Errorf("creating bucket directory: %w", err)
	}
	dir, err := os.MkdirTemp(root, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &TempGuard{dir: dir}, nil
}

// Dir returns the staging directory's path.
func (g *TempGuard) Dir() string { return g.dir }

// Commit marks the staging directory as successfully published elsewhere
// (e.g. renamed into the archive bucket), so Close no longer removes it.
func (g *TempGuard) Commit() { g.committed = true }

// Close removes the staging directory unless Commit was called.
func (g *TempGuard) Close() error {
	if g.committed {
		return nil
	}
	return os.RemoveAll(g.dir)
}

// Persist publishes a fully-populated staging directory into the archive
// bucket under a fresh ArchiveID, replacing any existing directory at the
// target atomically via rename. On platforms where directory-rename-over-
// existing is not atomic (Windows), an advisory file lock serializes
// concurrent persists of the same logical entry.
func (c *Cache) Persist(guard *TempGuard, lockEntry Entry) (ArchiveID, error) {
	id := NewArchiveID()
	target := c.ArchivePath(id)

	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return "", xerrors.New(xerrors.KindCacheWrite, "cache.Persist", err)
	}

	if runtime.GOOS == "windows" {
		lockPath := lockEntry.Path(c.Root) + ".lock"
		if err := os.MkdirAll(filepath.Dir(lockPath), 0o777); err != nil {
			return "", xerrors.New(xerrors.KindCacheWrite, "cache.Persist", err)
		}
		fl := flock.New(lockPath)
		if err := fl.Lock(); err != nil {
			return "", xerrors.New(xerrors.KindCacheWrite, "cache.Persist", err)
		}
		defer fl.Unlock()
	}

	if err := os.RemoveAll(target); err != nil {
		return "", xerrors.New(xerrors.KindCacheWrite, "cache.Persist", err)
	}
	if err := os.Rename(guard.dir, target); err != nil {
		return "", xerrors.New(xerrors.KindCacheWrite, "cache.Persist", err)
	}
	guard.Commit()

	return id, nil
}
