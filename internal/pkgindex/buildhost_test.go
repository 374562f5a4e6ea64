package pkgindex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/internal/distribution"
	"github.com/spindle-dev/spindle/internal/registry"
	"github.com/spindle-dev/spindle/version"
)

func TestBuildHostBuildStackDefaultsToLegacyWithoutPyproject(t *testing.T) {
	sdistBytes := buildTestSdistTarGz(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/example/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="http://%s/files/example-1.0.tar.gz">example-1.0.tar.gz</a>`, r.Host)
	})
	mux.HandleFunc("/files/example-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(sdistBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, cleanup, err := cache.Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	client := registry.NewManagedClient(srv.URL, 0)
	idx := &Index{
		Client:        client,
		Database:      &distribution.Database{Cache: c, Fetcher: distribution.NewFetcher(client)},
		Cache:         c,
		SupportedTags: []string{"py3-none-any"},
	}

	v, ok := version.Parse("1.0")
	if !ok {
		t.Fatal("failed to parse version")
	}

	stack, err := (BuildHost{Index: idx}).BuildStack(context.Background(), "example", v)
	if err != nil {
		t.Fatal(err)
	}
	if len(stack) != 2 || stack[0] != "setuptools" || stack[1] != "wheel" {
		t.Fatalf("got %v, want legacy setuptools+wheel stack", stack)
	}
}

func TestBuildHostDependencyMetadataReadsWheelMetadata(t *testing.T) {
	wheelPath := filepath.Join(t.TempDir(), "example-1.0-py3-none-any.whl")
	buildTestWheelFile(t, wheelPath)
	wheelBytes, err := os.ReadFile(wheelPath)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/example/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="http://%s/files/example-1.0-py3-none-any.whl">example-1.0-py3-none-any.whl</a>`, r.Host)
	})
	mux.HandleFunc("/files/example-1.0-py3-none-any.whl", func(w http.ResponseWriter, r *http.Request) {
		w.Write(wheelBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, cleanup, err := cache.Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	client := registry.NewManagedClient(srv.URL, 0)
	idx := &Index{
		Client:        client,
		Database:      &distribution.Database{Cache: c, Fetcher: distribution.NewFetcher(client)},
		Cache:         c,
		SupportedTags: []string{"py3-none-any"},
	}

	v, ok := version.Parse("1.0")
	if !ok {
		t.Fatal("failed to parse version")
	}

	md, err := (BuildHost{Index: idx}).DependencyMetadata(context.Background(), "example", v)
	if err != nil {
		t.Fatal(err)
	}
	if md.Name != "example" || len(md.Dependencies) != 1 || md.Dependencies[0] != "idna" {
		t.Fatalf("got %+v", md)
	}
}

func TestSetuptoolsCompatible(t *testing.T) {
	cases := []struct {
		requires []string
		want     bool
	}{
		{[]string{"setuptools", "wheel"}, true},
		{[]string{"setuptools>=61"}, true},
		{nil, true},
		{[]string{"hatchling"}, false},
		{[]string{"setuptools", "poetry-core"}, false},
	}
	for _, tc := range cases {
		if got := setuptoolsCompatible(tc.requires); got != tc.want {
			t.Fatalf("setuptoolsCompatible(%v) = %v, want %v", tc.requires, got, tc.want)
		}
	}
}

func TestBuildFromSourceRejectsUnsupportedBuildBackend(t *testing.T) {
	sdistBytes := buildTestSdistWithPyproject(t, `[build-system]
requires = ["hatchling"]
build-backend = "hatchling.build"
`)

	mux := http.NewServeMux()
	mux.HandleFunc("/example/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="http://%s/files/example-1.0.tar.gz">example-1.0.tar.gz</a>`, r.Host)
	})
	mux.HandleFunc("/files/example-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(sdistBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, cleanup, err := cache.Temporary()
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	client := registry.NewManagedClient(srv.URL, 0)
	idx := &Index{
		Client:        client,
		Database:      &distribution.Database{Cache: c, Fetcher: distribution.NewFetcher(client)},
		Cache:         c,
		SupportedTags: []string{"py3-none-any"},
	}

	v, ok := version.Parse("1.0")
	if !ok {
		t.Fatal("failed to parse version")
	}

	_, err = idx.FindPackage(context.Background(), "example", v)
	if err == nil {
		t.Fatal("expected an unsupported-build-backend error")
	}
}
