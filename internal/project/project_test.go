package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Friendly-Bard": "friendly-bard",
		"SomeProject":   "someproject",
		"some_project":  "some-project",
		"some...project": "some-project",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindWalksUpToParent(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, ManifestName)
	if err := os.WriteFile(manifest, []byte("name = \"demo\"\n"), 0o666); err != nil {
		t.Fatal(err)
	}

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o777); err != nil {
		t.Fatal(err)
	}

	found, err := Find(nested)
	if err != nil {
		t.Fatal(err)
	}
	if found != manifest {
		t.Fatalf("got %q, want %q", found, manifest)
	}
}

func TestFindNotFound(t *testing.T) {
	_, err := Find(t.TempDir())
	if err != ErrManifestNotFound {
		t.Fatalf("got %v, want ErrManifestNotFound", err)
	}
}

func TestReadParsesDependencies(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, ManifestName)
	contents := "name = \"demo\"\nrequires-python = \">=3.9\"\ndependencies = [\"requests>=2.25\", \"idna\"]\n"
	if err := os.WriteFile(manifest, []byte(contents), 0o666); err != nil {
		t.Fatal(err)
	}

	m, path, err := Read(root)
	if err != nil {
		t.Fatal(err)
	}
	if path != manifest {
		t.Fatalf("got path %q", path)
	}

	deps, err := m.ParsedDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].DistributionName != "requests" {
		t.Fatalf("got %+v", deps)
	}
}
