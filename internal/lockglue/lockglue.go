// Package lockglue implements the four pieces of preference/lock
// integration spec.md §4.11 calls out: pinning already-locked versions as
// resolver preferences, recording git references for VCS dependencies,
// narrowing candidate sets with build-platform constraints, and detecting
// mutually exclusive extras/dependency-group combinations before they reach
// the resolver. The on-disk lockfile itself is TOML, read and written with
// github.com/BurntSushi/toml, mirroring the teacher's own config-file
// approach generalized from JSON to TOML for uv-compatible shape.
package lockglue

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/spindle-dev/spindle/version"
)

// Lockfile is the full resolved dependency graph, persisted to spindle.lock.
type Lockfile struct {
	Version  int             `toml:"version"`
	Packages []LockedPackage `toml:"package"`
}

// LockedPackage is one resolved entry in the lockfile.
type LockedPackage struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Source  string   `toml:"source,omitempty"`
	GitRef  string   `toml:"git-ref,omitempty"`
	Wheels  []string `toml:"wheels,omitempty"`
}

// ReadLockfile decodes path as TOML.
func ReadLockfile(path string) (*Lockfile, error) {
	var lf Lockfile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		return nil, fmt.Errorf("decoding lockfile %s: %w", path, err)
	}
	return &lf, nil
}

// WriteLockfile serializes lf to path.
func WriteLockfile(lf *Lockfile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(lf)
}

// Preferences maps a normalized package name to the version the lockfile
// already pinned it at, so the resolver can prefer reusing it instead of
// selecting a newer release.
type Preferences map[string]version.Version

// FromLockfile builds a Preferences map from a previously-resolved
// lockfile, skipping entries whose version fails to parse (e.g. a
// VCS-sourced package pinned by ref rather than version).
func FromLockfile(lf *Lockfile) Preferences {
	prefs := make(Preferences, len(lf.Packages))
	for _, p := range lf.Packages {
		v, ok := version.Parse(p.Version)
		if !ok {
			continue
		}
		prefs[p.Name] = v
	}
	return prefs
}

// GitReference pins a VCS dependency to an exact commit, branch, or tag, as
// recorded by a previous lock. A manifest declares the Name/URL/Ref it
// wants; ResolvedSHA is filled in only once a lock has actually recorded
// one (spindle does not resolve refs to commits itself -- no git plumbing
// is wired into this build, so a ref is carried through verbatim).
type GitReference struct {
	Name        string `toml:"name"`
	URL         string `toml:"url"`
	Ref         string `toml:"ref"`
	ResolvedSHA string `toml:"resolved-sha,omitempty"`
}

// BuildConstraint narrows which (python_version, sys_platform) pairs a
// package's wheels may target, independent of the resolver's normal marker
// evaluation — e.g. "never select a manylinux wheel when targeting macOS".
type BuildConstraint struct {
	PythonVersion string `toml:"python-version,omitempty"`
	SysPlatform   string `toml:"sys-platform,omitempty"`
}

// Allows reports whether env satisfies the constraint. An empty field on the
// constraint matches any value.
func (b BuildConstraint) Allows(pythonVersion, sysPlatform string) bool {
	if b.PythonVersion != "" && b.PythonVersion != pythonVersion {
		return false
	}
	if b.SysPlatform != "" && b.SysPlatform != sysPlatform {
		return false
	}
	return true
}

// ConflictSet names a group of extras/dependency-groups that must not all be
// enabled simultaneously, because their transitive requirements disagree on
// a shared package's version.
type ConflictSet struct {
	Name    string   `toml:"name"`
	Members []string `toml:"members"` // extra or group names, mutually exclusive
}

// ConflictError reports that enabled named a forbidden combination from set.
type ConflictError struct {
	Set     ConflictSet
	Enabled []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting dependency groups enabled together: %v (conflict set %q)", e.Enabled, e.Set.Name)
}

// CheckConflicts reports an error if two or more members of any conflict set
// are present in enabled.
func CheckConflicts(sets []ConflictSet, enabled []string) error {
	enabledSet := make(map[string]struct{}, len(enabled))
	for _, e := range enabled {
		enabledSet[e] = struct{}{}
	}

	for _, set := range sets {
		var present []string
		for _, member := range set.Members {
			if _, ok := enabledSet[member]; ok {
				present = append(present, member)
			}
		}
		if len(present) > 1 {
			return &ConflictError{Set: set, Enabled: present}
		}
	}
	return nil
}

// Resolver is the external SAT-style dependency resolver seam. No package
// in this module implements it; cmd/spindle calls internal/resolver's
// Select directly.
type Resolver interface {
	Resolve(roots []string, prefs Preferences, constraints []BuildConstraint) (*Lockfile, error)
}
