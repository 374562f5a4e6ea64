// Package buildctx defines the seam spec.md §9 calls "Dynamic dispatch":
// the handful of operations a resolver or build backend needs from its host
// without depending on any concrete cache/registry/environment
// implementation. internal/pkgindex.BuildHost implements it on top of the
// real cache, registry and distribution database, and pkgindex's
// buildFromSource calls into it; tests substitute fakes.
package buildctx

import (
	"context"

	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/version"
)

// Metadata is the subset of a distribution's Core Metadata needed to drive
// dependency resolution: its name, version, requirements and
// requires-python.
type Metadata struct {
	Name         string
	Version      version.Version
	Dependencies []string // raw PEP 508 lines
	RequiresPython string
}

// Capabilities reports what build backend features a host provides to a
// PEP 517 build hook, e.g. whether editable installs or build isolation are
// available.
type Capabilities struct {
	Editable       bool
	BuildIsolation bool
}

// BuildContext is the dynamic-dispatch surface a resolver or build backend
// calls back into.
type BuildContext interface {
	// Cache returns the content-addressed store backing this run.
	Cache() *cache.Cache

	// Capabilities reports what this host supports.
	Capabilities() Capabilities

	// DependencyMetadata fetches (from cache or network) the metadata for a
	// specific name/version. An implementation may download the whole
	// distribution to read it.
	DependencyMetadata(ctx context.Context, name string, v version.Version) (Metadata, error)

	// BuildStack returns the PEP 517 build backend requirement strings
	// (e.g. "setuptools>=61", "hatchling") a source distribution declares,
	// so those can themselves be resolved before invoking the backend.
	BuildStack(ctx context.Context, name string, v version.Version) ([]string, error)
}
