// Package project reads and writes a spindle project's manifest: the
// pyproject.toml-adjacent file that names the project's `requires-python`
// floor and its top-level dependencies. Lookup walks up from the working
// directory the same way the teacher's rope.json discovery did.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/spindle-dev/spindle/internal/lockglue"
	"github.com/spindle-dev/spindle/pep508"
)

const ManifestName = "spindle.toml"

// Manifest is the on-disk project description.
type Manifest struct {
	Name           string   `toml:"name"`
	RequiresPython string   `toml:"requires-python"`
	Dependencies   []string `toml:"dependencies"`

	// GitDependencies records VCS-sourced packages outside the plain PEP
	// 508 dependency list, since that grammar has no URL/ref syntax here.
	GitDependencies []lockglue.GitReference `toml:"git-dependency,omitempty"`
	// ConflictSets names extras/groups that must never be enabled together.
	ConflictSets []lockglue.ConflictSet `toml:"conflict-set,omitempty"`
	// BuildConstraints restricts which (python-version, sys-platform)
	// targets `spindle lock` is allowed to lock for, when non-empty.
	BuildConstraints []lockglue.BuildConstraint `toml:"build-constraint,omitempty"`
}

// ParsedDependencies parses every raw dependency line recorded in the manifest.
func (m *Manifest) ParsedDependencies() ([]*pep508.Dependency, error) {
	deps := make([]*pep508.Dependency, 0, len(m.Dependencies))
	for _, line := range m.Dependencies {
		d, err := pep508.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("parsing dependency %q: %w", line, err)
		}
		deps = append(deps, d)
	}
	return deps, nil
}

var normalizationRe = regexp.MustCompile(`[-_.]+`)

// NormalizeName normalizes a distribution name per PEP 503.
func NormalizeName(name string) string {
	return strings.ToLower(normalizationRe.ReplaceAllString(name, "-"))
}

// ErrManifestNotFound is returned when no manifest exists in the working
// directory or any of its parents.
var ErrManifestNotFound = errors.New("spindle.toml not found (or in any parent directory)")

// Find walks up from dir (or the working directory, if dir is empty) until
// it finds a manifest or reaches the filesystem root.
func Find(dir string) (string, error) {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	for {
		path := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			parent := filepath.Dir(dir)
			if parent == dir {
				return "", ErrManifestNotFound
			}
			dir = parent
			continue
		} else if err != nil {
			return "", err
		}
		return path, nil
	}
}

// Read locates and parses the project manifest.
func Read(dir string) (*Manifest, string, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, "", err
	}

	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return &m, path, nil
}

// Write serializes m to path, or to the manifest discovered from the working
// directory when path is empty.
func Write(m *Manifest, path string) error {
	if path == "" {
		var err error
		path, err = Find("")
		if err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(m)
}
