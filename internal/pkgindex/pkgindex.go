// Package pkgindex adapts internal/registry and internal/distribution into
// a resolver.PackageIndex, so minimal version selection can walk a real
// package index's dependency graph. It is grounded on the teacher's add.go,
// which looked packages up via a single *PyPI value combining exactly these
// two concerns (index lookup, then install) in one place; here they stay
// separate packages wired together at the call site.
package pkgindex

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/internal/distribution"
	"github.com/spindle-dev/spindle/internal/registry"
	"github.com/spindle-dev/spindle/internal/resolver"
	"github.com/spindle-dev/spindle/internal/xerrors"
	"github.com/spindle-dev/spindle/pep508"
	"github.com/spindle-dev/spindle/version"
)

// Index looks up packages by fetching their simple-index links, picking the
// best compatible wheel, and reading its Requires-Dist metadata. When no
// compatible wheel is published, it falls back to building one from a
// matching source distribution via SourceBuilder.
type Index struct {
	Client        *registry.ManagedClient
	Database      *distribution.Database
	Cache         *cache.Cache
	SupportedTags []string // interpreter tags this resolution is being performed for

	// SourceBuilder builds a wheel from an extracted sdist tree when no
	// compatible wheel is available. A nil value uses
	// distribution.DefaultSourceBuilder.
	SourceBuilder distribution.SourceBuilder
}

// FindPackage implements resolver.PackageIndex.
func (idx *Index) FindPackage(ctx context.Context, name string, v version.Version) (resolver.Resolved, error) {
	links, err := idx.Client.FetchLinks(ctx, name)
	if err != nil {
		return resolver.Resolved{}, err
	}

	link, wheel, err := bestMatch(links, name, v, idx.SupportedTags)
	var archive cache.Archive
	if err != nil {
		wheel, archive, err = idx.buildFromSource(ctx, name, v, links)
		if err != nil {
			return resolver.Resolved{}, err
		}
	} else {
		archive, err = idx.resolveWheel(ctx, name, link, wheel)
		if err != nil {
			return resolver.Resolved{}, err
		}
	}

	md, err := distribution.ExtractMetadata(distribution.CachePath(idx.Cache, archive.ID))
	if err != nil {
		return resolver.Resolved{}, err
	}

	deps := make([]resolver.Candidate, 0, len(md.RequiresDist))
	for _, raw := range md.RequiresDist {
		dep, err := pep508.Parse(raw)
		if err != nil {
			continue // unparsable marker-guarded extras are skipped, not fatal
		}
		if len(dep.Versions) == 0 {
			continue
		}
		deps = append(deps, resolver.Candidate{
			Name:             dep.DistributionName,
			Version:          dep.Versions[0].Version,
			RequestedVersion: dep.Versions[0].Version,
		})
	}

	return resolver.Resolved{Name: wheel.Name, Version: wheel.Version, Dependencies: deps}, nil
}

// resolveWheel resolves an already-chosen wheel link through idx.Database,
// the shared tail end of both the direct-wheel and built-from-source paths.
func (idx *Index) resolveWheel(ctx context.Context, name string, link registry.Link, wheel distribution.WheelFilename) (cache.Archive, error) {
	entry := cache.Entry{Bucket: cache.BucketArchives, Shard: name, Filename: wheel.Filename}
	return idx.Database.Resolve(ctx, entry, fetchSourceFor(link), false)
}

// buildFromSource fetches a matching source distribution, extracts it, and
// builds a wheel from it via idx.SourceBuilder, returning the built wheel's
// parsed filename alongside its now-cached archive. Before invoking the
// builder it checks the sdist's declared PEP 517 build-system requirements
// via a BuildHost, since DefaultSourceBuilder only knows how to drive the
// legacy setuptools `bdist_wheel` shim.
func (idx *Index) buildFromSource(ctx context.Context, name string, v version.Version, links []registry.Link) (distribution.WheelFilename, cache.Archive, error) {
	link, sd, err := bestSdist(links, name, v)
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, fmt.Errorf("pkgindex: no compatible wheel or source distribution for %s %s", name, v)
	}

	if idx.SourceBuilder == nil {
		host := BuildHost{Index: idx}
		stack, err := host.BuildStack(ctx, sd.Name, sd.Version)
		if err != nil {
			return distribution.WheelFilename{}, cache.Archive{}, err
		}
		if !setuptoolsCompatible(stack) {
			return distribution.WheelFilename{}, cache.Archive{}, xerrors.New(xerrors.KindUnsupportedBuildBackend, "pkgindex.buildFromSource", fmt.Errorf("%s %s declares build backend requirements %v, which the built-in setuptools shim cannot drive", name, v, stack))
		}
	}

	res, err := idx.Client.Download(ctx, link.URL)
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, err
	}
	defer res.Body.Close()

	extractDir, err := os.MkdirTemp("", fmt.Sprintf("%s-%s-sdist-*", sd.Name, sd.Version))
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, err
	}
	defer os.RemoveAll(extractDir)

	root, err := distribution.ExtractArchive(res.Body, extractDir, sd)
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, err
	}

	builder := idx.SourceBuilder
	if builder == nil {
		builder = distribution.DefaultSourceBuilder{}
	}
	built, err := builder.Build(ctx, root, sd)
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, err
	}

	wheel, err := distribution.ParseWheelFilename(filepath.Base(built.Path))
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, err
	}

	entry := cache.Entry{Bucket: cache.BucketArchives, Shard: name, Filename: wheel.Filename}
	archive, err := idx.Database.Resolve(ctx, entry, distribution.FetchSource{LocalPath: built.Path, Policy: distribution.HashPolicyGenerate}, false)
	if err != nil {
		return distribution.WheelFilename{}, cache.Archive{}, err
	}
	return wheel, archive, nil
}

// fetchSourceFor builds the Database.Resolve input for link, routing
// `file://` hrefs (as produced by a local `--find-links` directory index)
// to the local-path variant instead of a network fetch.
func fetchSourceFor(link registry.Link) distribution.FetchSource {
	if u, err := url.Parse(link.URL); err == nil && u.Scheme == "file" {
		return distribution.FetchSource{LocalPath: u.Path, Policy: distribution.HashPolicyGenerate}
	}
	return distribution.FetchSource{
		URL:         link.URL,
		ExpectedSHA: link.Hashes["sha256"],
		Policy:      policyFor(link),
	}
}

func policyFor(link registry.Link) distribution.HashPolicy {
	if link.Hashes["sha256"] != "" {
		return distribution.HashPolicyVerify
	}
	return distribution.HashPolicyGenerate
}

// bestMatch picks the link whose wheel filename matches name/v exactly and
// ranks highest by supportedTags, skipping yanked releases and sdists.
func bestMatch(links []registry.Link, name string, v version.Version, supportedTags []string) (registry.Link, distribution.WheelFilename, error) {
	bestScore := -1
	var bestLink registry.Link
	var bestWheel distribution.WheelFilename
	found := false

	for _, link := range links {
		if link.Yanked {
			continue
		}
		wheel, err := distribution.ParseWheelFilename(link.Filename)
		if err != nil {
			continue
		}
		if !wheel.Version.Equal(v) {
			continue
		}
		rank := wheel.TagPreference(supportedTags)
		if rank < 0 {
			continue
		}
		if !found || rank > bestScore {
			bestScore = rank
			bestLink = link
			bestWheel = wheel
			found = true
		}
	}

	if !found {
		return registry.Link{}, distribution.WheelFilename{}, fmt.Errorf("pkgindex: no compatible wheel found for %s %s", name, v)
	}
	return bestLink, bestWheel, nil
}

// setuptoolsCompatible reports whether a declared build-system requirement
// list is one DefaultSourceBuilder's legacy `bdist_wheel` shim can drive:
// unspecified (legacy sdist, no pyproject.toml) or an explicit setuptools
// requirement with no other backend named alongside it.
func setuptoolsCompatible(requires []string) bool {
	for _, req := range requires {
		name := req
		for _, sep := range []string{"=", "<", ">", "!", "~", "[", " "} {
			if i := strings.Index(name, sep); i >= 0 {
				name = name[:i]
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "setuptools", "wheel":
		default:
			return false
		}
	}
	return true
}

// bestSdist picks the non-yanked source distribution link matching name/v
// exactly, preferring whichever one is listed first on the index page.
func bestSdist(links []registry.Link, name string, v version.Version) (registry.Link, distribution.SdistFilename, error) {
	for _, link := range links {
		if link.Yanked {
			continue
		}
		suffix := distribution.SdistSuffix(link.Filename)
		if suffix == "" {
			continue
		}
		sd, err := distribution.ParseSdistFilename(link.Filename, suffix)
		if err != nil {
			continue
		}
		if !sd.Version.Equal(v) {
			continue
		}
		return link, sd, nil
	}
	return registry.Link{}, distribution.SdistFilename{}, fmt.Errorf("pkgindex: no source distribution found for %s %s", name, v)
}
