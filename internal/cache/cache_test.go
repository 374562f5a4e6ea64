package cache

import (
	"os"
	"testing"
	"time"
)

func TestNewCreatesRoot(t *testing.T) {
	dir := t.TempDir()
	root := dir + "/nested/cache"

	c, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(c.Root); err != nil || !info.IsDir() {
		t.Fatalf("expected cache root to exist: %v", err)
	}
}

func TestPersistIsAtomicAndFresh(t *testing.T) {
	c, cleanup, err := Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	guard, err := c.NewStagingDir(BucketArchives)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(guard.Dir()+"/METADATA", []byte("Name: example\n"), 0o666); err != nil {
		t.Fatal(err)
	}

	lockEntry := Entry{Bucket: BucketWheels, Shard: "ab", Filename: "example-1.0-py3-none-any"}
	id, err := c.Persist(guard, lockEntry)
	if err != nil {
		t.Fatal(err)
	}

	archive := Archive{ID: id, Filename: "example-1.0-py3-none-any.whl"}
	if !c.Exists(archive) {
		t.Fatal("expected persisted archive to exist")
	}
	if _, err := os.Stat(guard.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected staging dir to be gone after rename, err=%v", err)
	}
}

func TestHTTPPointerRoundTrip(t *testing.T) {
	c, cleanup, err := Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	entry := Entry{Bucket: BucketWheels, Shard: "cd", Filename: "example-1.0-py3-none-any"}
	want := HTTPArchivePointer{
		Policy: HTTPCachePolicy{
			ETag:      `"abc123"`,
			FetchedAt: time.Now().Add(-time.Minute),
			MaxAge:    time.Hour,
		},
		Archive: Archive{ID: ArchiveID("deadbeef"), Filename: "example-1.0-py3-none-any.whl"},
	}

	if err := c.WriteHTTPPointer(entry, want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.ReadHTTPPointer(entry)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected pointer to be found")
	}
	if got.Policy.ETag != want.Policy.ETag || got.Archive.ID != want.Archive.ID {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadMissingPointerIsNotAnError(t *testing.T) {
	c, cleanup, err := Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	entry := Entry{Bucket: BucketWheels, Shard: "ff", Filename: "missing"}
	_, ok, err := c.ReadHTTPPointer(entry)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no pointer to be found")
	}
}

func TestHTTPCachePolicyFreshness(t *testing.T) {
	fresh := HTTPCachePolicy{FetchedAt: time.Now(), MaxAge: time.Hour}
	if fresh.Freshness(false) != Fresh {
		t.Fatal("expected fresh policy to report Fresh")
	}

	stale := HTTPCachePolicy{FetchedAt: time.Now().Add(-2 * time.Hour), MaxAge: time.Hour}
	if stale.Freshness(false) != Stale {
		t.Fatal("expected expired policy to report Stale")
	}

	if fresh.Freshness(true) != Stale {
		t.Fatal("expected forceRefresh to override freshness")
	}

	noPolicy := HTTPCachePolicy{}
	if noPolicy.Freshness(false) != AllowStale {
		t.Fatal("expected zero max-age to allow stale reuse")
	}
}

func TestEnsureFreshDetectsMissingArchive(t *testing.T) {
	c, cleanup, err := Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	entry := Entry{Bucket: BucketWheels, Shard: "11", Filename: "orphaned"}
	ptr := HTTPArchivePointer{
		Policy:  HTTPCachePolicy{FetchedAt: time.Now(), MaxAge: time.Hour},
		Archive: Archive{ID: ArchiveID("gone"), Filename: "orphaned.whl"},
	}
	if err := c.WriteHTTPPointer(entry, ptr); err != nil {
		t.Fatal(err)
	}

	_, control, err := c.EnsureFresh(entry, false)
	if err != nil {
		t.Fatal(err)
	}
	if control != Stale {
		t.Fatalf("expected Stale when archive directory is missing, got %v", control)
	}
}
