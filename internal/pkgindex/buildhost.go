package pkgindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/spindle-dev/spindle/internal/buildctx"
	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/internal/distribution"
	"github.com/spindle-dev/spindle/version"
)

// BuildHost adapts an *Index into a buildctx.BuildContext: the seam a
// source distribution's build step calls back into for dependency metadata
// and its own declared build-time requirements, without that caller
// depending on pkgindex, registry or distribution directly.
type BuildHost struct {
	Index *Index
}

var _ buildctx.BuildContext = BuildHost{}

// Cache implements buildctx.BuildContext.
func (h BuildHost) Cache() *cache.Cache { return h.Index.Cache }

// Capabilities implements buildctx.BuildContext. spindle never builds
// inside an isolated virtual environment of its own (it shells the build
// backend out directly, see distribution.DefaultSourceBuilder) and has no
// editable-install support.
func (h BuildHost) Capabilities() buildctx.Capabilities {
	return buildctx.Capabilities{Editable: false, BuildIsolation: false}
}

// DependencyMetadata implements buildctx.BuildContext by resolving name/v's
// best-matching wheel (fetching and caching it if necessary) and reading
// its Core Metadata, the same path FindPackage itself uses.
func (h BuildHost) DependencyMetadata(ctx context.Context, name string, v version.Version) (buildctx.Metadata, error) {
	links, err := h.Index.Client.FetchLinks(ctx, name)
	if err != nil {
		return buildctx.Metadata{}, err
	}

	link, wheel, err := bestMatch(links, name, v, h.Index.SupportedTags)
	if err != nil {
		return buildctx.Metadata{}, err
	}

	archive, err := h.Index.resolveWheel(ctx, name, link, wheel)
	if err != nil {
		return buildctx.Metadata{}, err
	}

	md, err := distribution.ExtractMetadata(distribution.CachePath(h.Index.Cache, archive.ID))
	if err != nil {
		return buildctx.Metadata{}, err
	}

	return buildctx.Metadata{
		Name:           md.Name,
		Version:        wheel.Version,
		Dependencies:   md.RequiresDist,
		RequiresPython: md.RequiresPython,
	}, nil
}

// buildSystem is the subset of pyproject.toml's [build-system] table this
// package needs.
type buildSystem struct {
	BuildSystem struct {
		Requires []string `toml:"requires"`
	} `toml:"build-system"`
}

// legacyBuildStack is what a PEP 517-less sdist (no pyproject.toml, just a
// setup.py) is implicitly understood to require.
var legacyBuildStack = []string{"setuptools", "wheel"}

// BuildStack implements buildctx.BuildContext by downloading name/v's
// source distribution, extracting it, and reading the build-time
// requirements it declares in pyproject.toml's [build-system] table. A
// legacy sdist with no pyproject.toml declares legacyBuildStack implicitly,
// matching what pip itself assumes for such projects.
func (h BuildHost) BuildStack(ctx context.Context, name string, v version.Version) ([]string, error) {
	links, err := h.Index.Client.FetchLinks(ctx, name)
	if err != nil {
		return nil, err
	}

	link, sd, err := bestSdist(links, name, v)
	if err != nil {
		return nil, fmt.Errorf("pkgindex: no source distribution found for %s %s: %w", name, v, err)
	}

	res, err := h.Index.Client.Download(ctx, link.URL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	extractDir, err := os.MkdirTemp("", fmt.Sprintf("%s-%s-buildstack-*", sd.Name, sd.Version))
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(extractDir)

	root, err := distribution.ExtractArchive(res.Body, extractDir, sd)
	if err != nil {
		return nil, err
	}

	var doc buildSystem
	if _, err := toml.DecodeFile(filepath.Join(root, "pyproject.toml"), &doc); err != nil {
		return legacyBuildStack, nil
	}
	if len(doc.BuildSystem.Requires) == 0 {
		return legacyBuildStack, nil
	}
	return doc.BuildSystem.Requires, nil
}
