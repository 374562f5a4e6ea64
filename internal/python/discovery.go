package python

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spindle-dev/spindle/internal/xerrors"
	"github.com/spindle-dev/spindle/version"
)

// EnvironmentPreference narrows discovery to system or virtual interpreters.
type EnvironmentPreference int

const (
	PreferenceAny EnvironmentPreference = iota
	PreferenceOnlySystem
	PreferenceOnlyVirtual
	PreferenceExplicitSystem
)

// InstallPreference narrows discovery to managed vs system installations.
type InstallPreference int

const (
	InstallAny InstallPreference = iota
	InstallOnlySystem
	InstallOnlyManaged
	InstallManaged
	InstallSystem
)

// Candidate is a single executable path discovery considers, before it has
// necessarily been queried.
type Candidate struct {
	Path string
}

// Source produces candidate executables for one of the seven search-order
// rules in spec.md §4.5. Using a slice of Source values (rather than a
// hard-coded if-chain) is what lets tests inject fake sources without
// touching the real filesystem or Windows registry.
type Source interface {
	Name() string
	Candidates(ctx context.Context, req Request, envPref EnvironmentPreference) ([]Candidate, error)
}

// DefaultSources returns the search-order rules 1-7 from spec.md §4.5,
// wired to the real filesystem and PATH.
func DefaultSources(managedInstallDir string) []Source {
	return []Source{
		parentInterpreterSource{},
		activeVenvSource{},
		condaSource{},
		dotVenvSource{},
		managedInstallsSource{dir: managedInstallDir},
		pathSearchSource{},
		platformRegistrySource{},
	}
}

// Discover runs every source in order, querying each candidate until one
// matches req, honoring envPref. It applies find_best relaxation when a
// strict pass finds nothing: drop patch, then drop implementation.
func Discover(ctx context.Context, sources []Source, req Request, envPref EnvironmentPreference) (*Interpreter, error) {
	interp, err := findBest(ctx, sources, req, envPref, matchStrict)
	if err != nil {
		return nil, err
	}
	if interp != nil {
		return interp, nil
	}

	interp, err = findBest(ctx, sources, req, envPref, matchDroppingPatch)
	if err != nil {
		return nil, err
	}
	if interp != nil {
		return interp, nil
	}

	interp, err = findBest(ctx, sources, req, envPref, matchDroppingImplementation)
	if err != nil {
		return nil, err
	}
	if interp != nil {
		return interp, nil
	}

	return nil, xerrors.New(xerrors.KindMissingExecutable, "python.Discover", fmt.Errorf("no interpreter found matching %s", req))
}

type matchFunc func(req Request, interp *Interpreter) bool

func findBest(ctx context.Context, sources []Source, req Request, envPref EnvironmentPreference, match matchFunc) (*Interpreter, error) {
	var python2Seen bool

	for _, src := range sources {
		candidates, err := src.Candidates(ctx, req, envPref)
		if err != nil {
			return nil, err
		}

		for _, c := range candidates {
			interp, err := Query(ctx, c.Path)
			if xerrors.IsStreamingUnsupported(err) {
				continue
			}
			if err != nil {
				var qerr *xerrors.Error
				if e, ok := err.(*xerrors.Error); ok {
					qerr = e
				}
				if qerr != nil && qerr.Kind == xerrors.KindPython2Detected {
					python2Seen = true
					continue
				}
				if qerr != nil && qerr.Kind == xerrors.KindMissingExecutable {
					// Broken symlink or vanished file: skip with a soft
					// diagnostic, matching spec.md's "skipped" behavior.
					fmt.Fprintf(os.Stderr, "warning: skipping broken interpreter candidate %s\n", c.Path)
					continue
				}
				continue
			}

			if match(req, interp) {
				return interp, nil
			}
		}
	}

	if python2Seen {
		return nil, xerrors.New(xerrors.KindPython2Detected, "python.findBest", fmt.Errorf("only python 2 interpreters found matching %s", req))
	}
	return nil, nil
}

func matchStrict(req Request, interp *Interpreter) bool {
	return matches(req, interp, false, false)
}

func matchDroppingPatch(req Request, interp *Interpreter) bool {
	return matches(req, interp, true, false)
}

func matchDroppingImplementation(req Request, interp *Interpreter) bool {
	return matches(req, interp, true, true)
}

func matches(req Request, interp *Interpreter, dropPatch, dropImplementation bool) bool {
	// A free-threaded request is only satisfied by an interpreter that
	// actually reports its GIL disabled -- the "t" suffix on an executable
	// name (see candidateExecutableNames) only narrows which binaries are
	// tried first, it is never sufficient proof on its own.
	if req.FreeThreaded && !interp.GILDisabled {
		return false
	}

	switch req.Kind {
	case RequestAny, RequestDefault:
		return true
	case RequestVersionRange:
		rp, err := version.ParseRequiresPython(req.Version)
		if err != nil {
			return false
		}
		if dropPatch {
			return matchesMajorMinor(rp, interp.Version)
		}
		return rp.Contains(interp.Version)
	case RequestImplementation:
		if !dropImplementation && !strings.EqualFold(interp.Implementation, req.Implementation) {
			return false
		}
		if req.Version == "" {
			return true
		}
		rp, err := version.ParseRequiresPython(req.Version)
		if err != nil {
			return false
		}
		return rp.Contains(interp.Version)
	case RequestPath:
		return interp.SysExecutable == req.Path
	case RequestExecutableName:
		return filepath.Base(interp.SysExecutable) == req.Name
	case RequestKey:
		if !dropImplementation && req.Implementation != "" && !strings.EqualFold(interp.Implementation, req.Implementation) {
			return false
		}
		rp, err := version.ParseRequiresPython(req.Version)
		if err != nil {
			return false
		}
		return rp.Contains(interp.Version)
	default:
		return false
	}
}

// matchesMajorMinor relaxes a version-range match to ignore patch level: an
// interpreter matches if some requirement in rp shares (major, minor) with
// its lower bound and the interpreter is not older than it.
func matchesMajorMinor(rp version.RequiresPython, v version.Version) bool {
	if rp.Lower == nil {
		return true
	}
	lower := *rp.Lower
	if v.Release[0] != lower.Release[0] || v.Release[1] != lower.Release[1] {
		return false
	}
	return !lower.GreaterThan(v)
}

// --- Sources -----------------------------------------------------------

type parentInterpreterSource struct{}

func (parentInterpreterSource) Name() string { return "parent-interpreter" }
func (parentInterpreterSource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	if path := os.Getenv("SPINDLE_INTERNAL_PARENT_INTERPRETER"); path != "" {
		return []Candidate{{Path: path}}, nil
	}
	return nil, nil
}

type activeVenvSource struct{}

func (activeVenvSource) Name() string { return "active-venv" }
func (activeVenvSource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	if pref == PreferenceOnlySystem {
		return nil, nil
	}
	dir := os.Getenv("VIRTUAL_ENV")
	if dir == "" {
		return nil, nil
	}
	return venvExecutable(dir), nil
}

type condaSource struct{}

func (condaSource) Name() string { return "conda" }
func (condaSource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	dir := os.Getenv("CONDA_PREFIX")
	if dir == "" {
		return nil, nil
	}
	isBase := os.Getenv("CONDA_DEFAULT_ENV") == "base"
	if isBase && pref == PreferenceOnlyVirtual {
		return nil, nil
	}
	if !isBase && pref == PreferenceOnlySystem {
		return nil, nil
	}
	return venvExecutable(dir), nil
}

type dotVenvSource struct{}

func (dotVenvSource) Name() string { return "dot-venv" }
func (dotVenvSource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	if pref == PreferenceOnlySystem {
		return nil, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, nil
	}
	for {
		venv := filepath.Join(dir, ".venv")
		if _, err := os.Stat(filepath.Join(venv, "pyvenv.cfg")); err == nil {
			return venvExecutable(venv), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

type managedInstallsSource struct{ dir string }

func (managedInstallsSource) Name() string { return "managed-installs" }
func (s managedInstallsSource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	if s.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil
	}
	var out []Candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		exe := filepath.Join(s.dir, e.Name(), "bin", "python3")
		if _, err := os.Stat(exe); err == nil {
			out = append(out, Candidate{Path: exe})
		}
	}
	return out, nil
}

type pathSearchSource struct{}

func (pathSearchSource) Name() string { return "path-search" }
func (pathSearchSource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	names := candidateExecutableNames(req)

	var out []Candidate
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		for _, name := range names {
			exe := filepath.Join(dir, name)
			if info, err := os.Stat(exe); err == nil && !info.IsDir() {
				out = append(out, Candidate{Path: exe})
			}
		}
	}
	return out, nil
}

func candidateExecutableNames(req Request) []string {
	base := []string{"python3", "python"}
	if req.Kind == RequestVersionRange && req.Version != "" {
		minor := strings.TrimPrefix(req.Version, "3.")
		if minor != req.Version {
			base = append([]string{"python3." + minor}, base...)
		}
	}
	if req.Kind == RequestImplementation || req.Kind == RequestKey {
		switch req.Implementation {
		case "pypy":
			base = append([]string{"pypy3"}, base...)
		case "graalpy":
			base = append([]string{"graalpy"}, base...)
		}
	}
	if req.FreeThreaded {
		withT := make([]string, 0, len(base))
		for _, n := range base {
			withT = append(withT, n+"t")
		}
		base = append(withT, base...)
	}
	return base
}

type platformRegistrySource struct{}

func (platformRegistrySource) Name() string { return "platform-registry" }
func (platformRegistrySource) Candidates(ctx context.Context, req Request, pref EnvironmentPreference) ([]Candidate, error) {
	// Windows registry / App Execution Alias lookup is not implemented on
	// this platform build; this source always yields no candidates.
	return nil, nil
}

func venvExecutable(dir string) []Candidate {
	for _, rel := range []string{"bin/python3", "bin/python", "Scripts/python.exe"} {
		exe := filepath.Join(dir, rel)
		if _, err := os.Stat(exe); err == nil {
			return []Candidate{{Path: exe}}
		}
	}
	return nil
}
