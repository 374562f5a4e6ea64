package distribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/internal/registry"
	"github.com/spindle-dev/spindle/internal/xerrors"
)

// HashPolicy controls how strictly a download's integrity is checked.
type HashPolicy int

const (
	// HashPolicyNone performs no verification; used for locally-trusted
	// wheels already validated by an earlier step.
	HashPolicyNone HashPolicy = iota
	// HashPolicyVerify requires a known-good digest and fails the download
	// if the computed digest does not match.
	HashPolicyVerify
	// HashPolicyGenerate computes and records a digest without a known-good
	// value to compare against, e.g. the first time a package is fetched
	// from an index that does not publish hashes.
	HashPolicyGenerate
)

// FetchSource describes where a wheel's bytes come from.
type FetchSource struct {
	URL          string            // remote URL, or "" for a local path
	LocalPath    string            // local filesystem path, or "" for a remote URL
	ExpectedSHA  string            // hex sha256, required when Policy is Verify
	Policy       HashPolicy
}

// Fetcher downloads or copies a whole wheel's bytes into destPath, applying
// the requested hash policy, and reports the digest it computed (present
// regardless of policy, since computing it is nearly free while streaming
// the copy). This is the plain, whole-archive path that Database.populate
// falls back to when the faster range-request-driven StreamUnpack path
// (spec.md §4.6's stream path) is unsupported by the source or fails
// partway through.
//
// Remote fetches go through a registry.ManagedClient rather than a bare
// http.Client, so a wheel body download draws from the same concurrency
// permit and retry policy as the simple-index lookup that found it --
// nothing about fetching a wheel is allowed to bypass the download budget.
type Fetcher struct {
	Client *registry.ManagedClient
}

// NewFetcher returns a Fetcher using a default-configured ManagedClient when
// client is nil.
func NewFetcher(client *registry.ManagedClient) *Fetcher {
	if client == nil {
		client = registry.NewManagedClient("", 0)
	}
	return &Fetcher{Client: client}
}

// Fetch writes src's bytes to destPath and returns the computed sha256
// digest.
func (f *Fetcher) Fetch(ctx context.Context, src FetchSource, destPath string) (string, error) {
	var reader io.Reader
	var closer io.Closer

	if src.LocalPath != "" {
		file, err := os.Open(src.LocalPath)
		if err != nil {
			return "", xerrors.New(xerrors.KindCacheRead, "distribution.Fetch", err)
		}
		reader, closer = file, file
	} else {
		res, err := f.Client.Download(ctx, src.URL)
		if err != nil {
			return "", xerrors.New(xerrors.KindStreamingFailed, "distribution.Fetch", err)
		}
		if res.StatusCode != http.StatusOK {
			res.Body.Close()
			return "", xerrors.New(xerrors.KindHTTPStatus, "distribution.Fetch", fmt.Errorf("unexpected status %s", res.Status))
		}
		reader, closer = res.Body, res.Body
	}
	defer closer.Close()

	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", xerrors.New(xerrors.KindDiskFull, "distribution.Fetch", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, tee); err != nil {
		return "", xerrors.New(xerrors.KindStreamingFailed, "distribution.Fetch", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if src.Policy == HashPolicyVerify {
		if src.ExpectedSHA == "" {
			return "", xerrors.New(xerrors.KindHashMismatch, "distribution.Fetch", fmt.Errorf("verify policy requires an expected digest"))
		}
		if digest != src.ExpectedSHA {
			return "", xerrors.New(xerrors.KindHashMismatch, "distribution.Fetch", fmt.Errorf("got %s, want %s", digest, src.ExpectedSHA))
		}
	}

	return digest, nil
}

// ExpectedSHAFromFragment extracts a "#sha256=..." fragment as published by
// PEP 503 simple-index hrefs, returning "" if absent.
func ExpectedSHAFromFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return ""
	}
	if v := values["sha256"]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Database composes a Fetcher with the content-addressed cache to provide
// the full get-or-build flow: consult the cache, fetch on a miss or when
// the entry's HTTP policy reports Stale, persist atomically, and recover
// when a pointer's referenced archive has been garbage-collected
// (stateless coherence: the pointer is not trusted to imply the archive
// still exists on disk).
type Database struct {
	Cache   *cache.Cache
	Fetcher *Fetcher
	// CacheOnly, when set, causes Resolve to fail rather than perform any
	// network fetch -- the Go equivalent of the teacher's ROPE_CACHE_ONLY
	// escape hatch, renamed to this module's own env var.
	CacheOnly bool
}

const envCacheOnly = "SPINDLE_CACHE_ONLY"

// CacheOnlyFromEnv reads the SPINDLE_CACHE_ONLY environment variable.
func CacheOnlyFromEnv() bool {
	v, _ := strconv.ParseBool(os.Getenv(envCacheOnly))
	return v
}

// Resolve returns the local archive directory for entry, fetching src into
// the cache first if necessary. Local-path wheels (src.LocalPath set) use
// the `.rev` mtime-keyed pointer instead of the `.http` ETag/max-age one,
// since a path on disk has no conditional-request metadata of its own.
func (d *Database) Resolve(ctx context.Context, entry cache.Entry, src FetchSource, forceRefresh bool) (cache.Archive, error) {
	if src.LocalPath != "" {
		return d.resolveLocal(ctx, entry, src, forceRefresh)
	}

	ptr, control, err := d.Cache.EnsureFresh(entry, forceRefresh)
	if err != nil {
		return cache.Archive{}, err
	}
	if control == cache.Fresh || control == cache.AllowStale {
		return ptr.Archive, nil
	}

	if d.CacheOnly {
		return cache.Archive{}, xerrors.New(xerrors.KindCacheMissingArchive, "distribution.Database.Resolve", fmt.Errorf("%s is set and no cached archive is available", envCacheOnly))
	}

	guard, err := d.Cache.NewStagingDir(cache.BucketArchives)
	if err != nil {
		return cache.Archive{}, err
	}
	defer guard.Close()

	digest, err := d.populate(ctx, src, guard.Dir())
	if err != nil {
		return cache.Archive{}, err
	}

	id, err := d.Cache.Persist(guard, entry)
	if err != nil {
		return cache.Archive{}, err
	}

	digests := map[string]string{}
	etag := fmt.Sprintf("streamed:%s", id)
	if digest != "" {
		digests["sha256"] = digest
		etag = digest
	}

	archive := cache.Archive{ID: id, Digests: digests}
	newPointer := cache.HTTPArchivePointer{
		Policy:  cache.HTTPCachePolicy{ETag: etag},
		Archive: archive,
	}
	if err := d.Cache.WriteHTTPPointer(entry, newPointer); err != nil {
		return cache.Archive{}, err
	}

	return archive, nil
}

// resolveLocal is Resolve's counterpart for a wheel already present on the
// local filesystem (e.g. a `file://`-style direct reference or a
// `--find-links` directory entry): no network fetch is ever attempted, and
// freshness is judged by the source file's own mtime rather than an HTTP
// cache policy.
func (d *Database) resolveLocal(ctx context.Context, entry cache.Entry, src FetchSource, forceRefresh bool) (cache.Archive, error) {
	ptr, control, err := d.Cache.EnsureFreshLocal(entry, src.LocalPath, forceRefresh)
	if err != nil {
		return cache.Archive{}, err
	}
	if control == cache.Fresh {
		return ptr.Archive, nil
	}

	info, err := os.Stat(src.LocalPath)
	if err != nil {
		return cache.Archive{}, xerrors.New(xerrors.KindCacheRead, "distribution.Database.resolveLocal", err)
	}

	guard, err := d.Cache.NewStagingDir(cache.BucketArchives)
	if err != nil {
		return cache.Archive{}, err
	}
	defer guard.Close()

	digest, err := d.populate(ctx, src, guard.Dir())
	if err != nil {
		return cache.Archive{}, err
	}

	id, err := d.Cache.Persist(guard, entry)
	if err != nil {
		return cache.Archive{}, err
	}

	archive := cache.Archive{ID: id, Digests: map[string]string{"sha256": digest}}
	if err := d.Cache.WriteLocalPointer(entry, cache.LocalArchivePointer{ModTime: info.ModTime(), Archive: archive}); err != nil {
		return cache.Archive{}, err
	}
	return archive, nil
}

// populate fills destDir with src's unpacked contents, preferring the
// streaming path (spec.md §4.6) and falling back to a plain
// download-then-extract when streaming is unsupported by the source or
// fails partway through. It returns the whole-archive sha256 digest when
// one was computed, or "" when the streaming path was used (see
// StreamUnpack's doc comment for why no such digest exists in that case).
func (d *Database) populate(ctx context.Context, src FetchSource, destDir string) (string, error) {
	if src.LocalPath == "" && src.URL != "" && src.Policy != HashPolicyVerify {
		err := StreamUnpack(ctx, d.Fetcher.Client, src.URL, destDir)
		switch {
		case err == nil:
			return "", nil
		case xerrors.IsStreamingUnsupported(err), xerrors.IsStreamingFailed(err):
			// fall through to the plain path below; destDir may hold a
			// partial extraction from the aborted attempt, which the
			// subsequent Unpack overwrites file-by-file as it re-extracts.
		default:
			return "", err
		}
	}

	download, err := os.CreateTemp("", "spindle-download-*.whl")
	if err != nil {
		return "", xerrors.New(xerrors.KindDiskFull, "distribution.Database.populate", err)
	}
	downloadPath := download.Name()
	download.Close()
	defer os.Remove(downloadPath)

	digest, err := d.Fetcher.Fetch(ctx, src, downloadPath)
	if err != nil {
		return "", err
	}

	if err := Unpack(ctx, downloadPath, destDir); err != nil {
		return "", err
	}
	return digest, nil
}
