package distribution

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseWheelFilename(t *testing.T) {
	w, err := ParseWheelFilename("example-1.2.3-py3-none-any.whl")
	if err != nil {
		t.Fatal(err)
	}
	if w.Name != "example" {
		t.Fatalf("got name %q", w.Name)
	}
	if w.Version.String() != "1.2.3" {
		t.Fatalf("got version %q", w.Version)
	}
	if len(w.Tags) != 1 || w.Tags[0] != "py3-none-any" {
		t.Fatalf("got tags %v", w.Tags)
	}
}

func TestParseWheelFilenameWithBuildTag(t *testing.T) {
	w, err := ParseWheelFilename("example-1.0-1-py3-none-any.whl")
	if err != nil {
		t.Fatal(err)
	}
	if w.Build != "1" {
		t.Fatalf("got build %q", w.Build)
	}
}

func TestParseWheelFilenameRejectsNonWheel(t *testing.T) {
	if _, err := ParseWheelFilename("example-1.0.tar.gz"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTagPreferenceNoMatch(t *testing.T) {
	w, err := ParseWheelFilename("example-1.0-cp39-cp39-win32.whl")
	if err != nil {
		t.Fatal(err)
	}
	if w.TagPreference([]string{"cp311-cp311-manylinux_2_17_x86_64"}) != -1 {
		t.Fatal("expected no match")
	}
}

func buildTestWheel(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("example-1.0.dist-info/METADATA")
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.Write([]byte("Name: example\nVersion: 1.0\nRequires-Dist: idna\nRequires-Python: >=3.8\n\nLong description.\n"))
	if err != nil {
		t.Fatal(err)
	}
	w2, err := zw.Create("example/__init__.py")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w2.Write([]byte("# package\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example-1.0-py3-none-any.whl")
	buildTestWheel(t, path)

	md, err := ExtractMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if md.Name != "example" || md.Version != "1.0" {
		t.Fatalf("got %+v", md)
	}
	if len(md.RequiresDist) != 1 || md.RequiresDist[0] != "idna" {
		t.Fatalf("got requires-dist %v", md.RequiresDist)
	}
	if md.RequiresPython != ">=3.8" {
		t.Fatalf("got requires-python %q", md.RequiresPython)
	}
}

func TestUnpackWritesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example-1.0-py3-none-any.whl")
	buildTestWheel(t, path)

	dest := filepath.Join(t.TempDir(), "unpacked")
	if err := Unpack(context.Background(), path, dest); err != nil {
		t.Fatal(err)
	}

	contents, err := os.ReadFile(filepath.Join(dest, "example", "__init__.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(contents, []byte("# package")) {
		t.Fatalf("got %q", contents)
	}
}
