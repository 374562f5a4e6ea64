// Command spindle is the CLI entry point, adapted from the teacher's
// switch-based main.go dispatch. It wires together the project manifest,
// distribution database, interpreter discovery, environment factory, and
// run dispatcher into the subcommands named in spec.md's overview.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/internal/distribution"
	"github.com/spindle-dev/spindle/internal/environment"
	"github.com/spindle-dev/spindle/internal/lockglue"
	"github.com/spindle-dev/spindle/internal/pkgindex"
	"github.com/spindle-dev/spindle/internal/project"
	"github.com/spindle-dev/spindle/internal/python"
	"github.com/spindle-dev/spindle/internal/pyversion"
	"github.com/spindle-dev/spindle/internal/registry"
	"github.com/spindle-dev/spindle/internal/resolver"
	"github.com/spindle-dev/spindle/internal/rundispatch"
	"github.com/spindle-dev/spindle/version"
)

// Version identifies the build of spindle. Overridden by CI during release.
var Version = "dev"

const defaultHelp = `Spindle manages Python projects and their dependencies.

Usage:

  spindle <command> [options]

The commands are:

  run          run a command inside the project environment
  init         initialize a new spindle project
  add          resolve and add one or more dependencies
  remove       remove one or more dependencies (not implemented)
  lock         resolve the full dependency set and write spindle.lock
  sync         create or reuse the project environment (.venv)
  show         inspect the current dependency set
  export       print the resolved dependency set in requirements format
  cache        inspect or clear the distribution cache
  pythonpath   print the interpreter discovery result for this project
  version      show the spindle version
`

func run(args []string) (int, error) {
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}

	ctx := context.Background()

	switch arg {
	case "", "help", "--help", "-h":
		fmt.Print(defaultHelp)
		return 2, nil
	case "version", "--version":
		fmt.Printf("spindle version: %s\n", Version)
		return 0, nil
	case "init":
		return cmdInit()
	case "add":
		return cmdAdd(ctx, args[1:])
	case "remove":
		return 1, fmt.Errorf("remove: not implemented")
	case "lock":
		return cmdLock(ctx, args[1:])
	case "sync":
		return cmdSync(ctx)
	case "show":
		return cmdShow()
	case "export":
		return cmdExport(ctx)
	case "cache":
		return cmdCache(ctx, args[1:])
	case "pythonpath":
		return cmdPythonpath(ctx)
	case "run":
		return cmdRun(ctx, args[2:])
	default:
		fmt.Printf("spindle %s: unknown command\n", arg)
		return 2, nil
	}
}

func cmdInit() (int, error) {
	if path, err := project.Find(""); err == nil {
		return 1, fmt.Errorf("init: %s already exists", path)
	} else if err != project.ErrManifestNotFound {
		return 1, err
	}

	m := &project.Manifest{Dependencies: []string{}}
	if err := project.Write(m, project.ManifestName); err != nil {
		return 1, err
	}
	return 0, nil
}

func cmdAdd(ctx context.Context, args []string) (int, error) {
	flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
	indexURL := flagSet.String("index-url", registry.DefaultIndexURL, "package index URL")
	if err := flagSet.Parse(args[1:]); err == pflag.ErrHelp {
		return 0, nil
	} else if err != nil {
		return 2, err
	}
	if len(flagSet.Args()) == 0 {
		fmt.Println("spindle add: no package specified")
		return 2, nil
	}

	m, path, err := project.Read("")
	if err != nil {
		return 1, err
	}

	sources := python.DefaultSources(defaultManagedInstallDir())
	interp, err := python.Discover(ctx, sources, python.Request{Kind: python.RequestAny}, python.PreferenceAny)
	if err != nil {
		return 1, err
	}

	c, err := cache.New(defaultCacheDir())
	if err != nil {
		return 1, err
	}

	client := registry.NewManagedClient(*indexURL, 0)
	idx := &pkgindex.Index{
		Client:        client,
		Database:      &distribution.Database{Cache: c, Fetcher: distribution.NewFetcher(client), CacheOnly: distribution.CacheOnlyFromEnv()},
		Cache:         c,
		SupportedTags: interp.Tags,
	}

	roots := make([]resolver.Candidate, 0, len(flagSet.Args()))
	for _, name := range flagSet.Args() {
		normalized := project.NormalizeName(name)
		links, err := client.FetchLinks(ctx, normalized)
		if err != nil {
			return 1, err
		}
		if len(links) == 0 {
			return 1, fmt.Errorf("add: no distributions found for %s", name)
		}

		latest, err := latestVersion(links)
		if err != nil {
			return 1, fmt.Errorf("add: %s: %w", name, err)
		}
		roots = append(roots, resolver.Candidate{Name: normalized, Version: latest, RequestedVersion: latest})
	}

	resolved, err := resolver.Select(ctx, roots, idx)
	if err != nil {
		return 1, fmt.Errorf("resolving dependencies: %w", err)
	}

	requested := make(map[string]bool, len(roots))
	for _, r := range roots {
		requested[r.Name] = true
	}
	for _, dep := range resolved {
		if requested[dep.Name] {
			m.Dependencies = append(m.Dependencies, fmt.Sprintf("%s==%s", dep.Name, dep.Version))
		}
	}
	fmt.Printf("resolved %d packages\n", len(resolved))

	if err := project.Write(m, path); err != nil {
		return 1, err
	}
	return 0, nil
}

// cmdExport resolves the project's full dependency set via minimal version
// selection and prints it in a pip-compatible requirements format.
func cmdExport(ctx context.Context) (int, error) {
	m, _, err := project.Read("")
	if err != nil {
		return 1, err
	}

	sources := python.DefaultSources(defaultManagedInstallDir())
	interp, err := python.Discover(ctx, sources, python.Request{Kind: python.RequestAny}, python.PreferenceAny)
	if err != nil {
		return 1, err
	}

	c, err := cache.New(defaultCacheDir())
	if err != nil {
		return 1, err
	}

	client := registry.NewManagedClient("", 0)
	idx := &pkgindex.Index{
		Client:        client,
		Database:      &distribution.Database{Cache: c, Fetcher: distribution.NewFetcher(client), CacheOnly: distribution.CacheOnlyFromEnv()},
		Cache:         c,
		SupportedTags: interp.Tags,
	}

	deps, err := m.ParsedDependencies()
	if err != nil {
		return 1, err
	}

	roots := make([]resolver.Candidate, 0, len(deps))
	for _, dep := range deps {
		normalized := project.NormalizeName(dep.DistributionName)
		links, err := client.FetchLinks(ctx, normalized)
		if err != nil {
			return 1, err
		}
		latest, err := latestVersion(links)
		if err != nil {
			return 1, fmt.Errorf("export: %s: %w", dep.DistributionName, err)
		}
		roots = append(roots, resolver.Candidate{Name: normalized, Version: latest, RequestedVersion: latest})
	}

	resolved, err := resolver.Select(ctx, roots, idx)
	if err != nil {
		return 1, fmt.Errorf("resolving dependencies: %w", err)
	}

	for _, dep := range resolved {
		fmt.Printf("%s==%s\n", dep.Name, dep.Version)
	}
	return 0, nil
}

// cmdLock resolves the project's full dependency set via minimal version
// selection, honoring spec.md §4.11's lock-integration pieces (already-
// locked version preferences, git references, build-platform constraints,
// and extras/group conflict detection), and writes the result to
// spindle.lock next to the manifest.
func cmdLock(ctx context.Context, args []string) (int, error) {
	flagSet := pflag.NewFlagSet("lock", pflag.ContinueOnError)
	extras := flagSet.StringArray("extra", nil, "enable an extra or dependency group (repeatable)")
	if err := flagSet.Parse(args[1:]); err == pflag.ErrHelp {
		return 0, nil
	} else if err != nil {
		return 2, err
	}

	m, path, err := project.Read("")
	if err != nil {
		return 1, err
	}

	if err := lockglue.CheckConflicts(m.ConflictSets, *extras); err != nil {
		return 1, fmt.Errorf("lock: %w", err)
	}

	sources := python.DefaultSources(defaultManagedInstallDir())
	interp, err := python.Discover(ctx, sources, python.Request{Kind: python.RequestAny}, python.PreferenceAny)
	if err != nil {
		return 1, err
	}

	if len(m.BuildConstraints) > 0 {
		allowed := false
		for _, bc := range m.BuildConstraints {
			if bc.Allows(interp.Markers["python_version"], interp.Markers["sys_platform"]) {
				allowed = true
				break
			}
		}
		if !allowed {
			return 1, fmt.Errorf("lock: interpreter %s (%s) is not an allowed build target", interp.Markers["python_version"], interp.Markers["sys_platform"])
		}
	}

	lockPath := filepath.Join(filepath.Dir(path), "spindle.lock")
	prefs := lockglue.Preferences{}
	if existing, err := lockglue.ReadLockfile(lockPath); err == nil {
		prefs = lockglue.FromLockfile(existing)
	}

	c, err := cache.New(defaultCacheDir())
	if err != nil {
		return 1, err
	}

	client := registry.NewManagedClient("", 0)
	idx := &pkgindex.Index{
		Client:        client,
		Database:      &distribution.Database{Cache: c, Fetcher: distribution.NewFetcher(client), CacheOnly: distribution.CacheOnlyFromEnv()},
		Cache:         c,
		SupportedTags: interp.Tags,
	}

	deps, err := m.ParsedDependencies()
	if err != nil {
		return 1, err
	}

	gitRefs := make(map[string]lockglue.GitReference, len(m.GitDependencies))
	for _, ref := range m.GitDependencies {
		gitRefs[project.NormalizeName(ref.Name)] = ref
	}

	roots := make([]resolver.Candidate, 0, len(deps))
	for _, dep := range deps {
		normalized := project.NormalizeName(dep.DistributionName)

		if pinned, ok := prefs[normalized]; ok {
			roots = append(roots, resolver.Candidate{Name: normalized, Version: pinned, RequestedVersion: pinned})
			continue
		}

		links, err := client.FetchLinks(ctx, normalized)
		if err != nil {
			return 1, err
		}
		latest, err := latestVersion(links)
		if err != nil {
			return 1, fmt.Errorf("lock: %s: %w", dep.DistributionName, err)
		}
		roots = append(roots, resolver.Candidate{Name: normalized, Version: latest, RequestedVersion: latest})
	}

	resolved, err := resolver.Select(ctx, roots, idx)
	if err != nil {
		return 1, fmt.Errorf("resolving dependencies: %w", err)
	}

	lf := &lockglue.Lockfile{Version: 1, Packages: make([]lockglue.LockedPackage, 0, len(resolved))}
	for _, dep := range resolved {
		pkg := lockglue.LockedPackage{Name: dep.Name, Version: dep.Version.String()}
		if ref, ok := gitRefs[dep.Name]; ok {
			pkg.Source = "git"
			pkg.GitRef = ref.Ref
		}
		lf.Packages = append(lf.Packages, pkg)
	}

	if err := lockglue.WriteLockfile(lf, lockPath); err != nil {
		return 1, err
	}
	fmt.Printf("locked %d packages (%s)\n", len(lf.Packages), lockPath)
	return 0, nil
}

func cmdShow() (int, error) {
	m, path, err := project.Read("")
	if err != nil {
		return 1, err
	}
	fmt.Printf("project %s (%s)\n", m.Name, path)
	for _, dep := range m.Dependencies {
		fmt.Println(" -", dep)
	}
	return 0, nil
}

func cmdSync(ctx context.Context) (int, error) {
	m, path, err := project.Read("")
	if err != nil {
		return 1, err
	}

	sources := python.DefaultSources(defaultManagedInstallDir())
	req := resolvePythonRequest(filepath.Dir(path), m.RequiresPython)

	envDir := filepath.Join(filepath.Dir(path), ".venv")
	result, err := environment.Ensure(ctx, environment.Request{
		Root:           envDir,
		PythonRequest:  req,
		RequiresPython: m.RequiresPython,
		ProjectName:    m.Name,
		Sources:        sources,
	})
	if err != nil {
		return 1, err
	}

	fmt.Printf("environment %s (%s)\n", result.Outcome, envDir)
	return 0, nil
}

// resolvePythonRequest applies spec.md §4.8 step 2's precedence: a version
// file in projectDir itself (parent directories are not searched) or else
// in the user-global config directory beats the project's requires-python
// floor, which beats no preference at all. There is no explicit
// interpreter request layer.
func resolvePythonRequest(projectDir, requiresPython string) python.Request {
	globalDir := ""
	if dir, err := os.UserConfigDir(); err == nil {
		globalDir = filepath.Join(dir, "spindle", "version")
	}

	if file, err := pyversion.Lookup(projectDir, projectDir, globalDir, false); err == nil && file != nil && len(file.Requests) > 0 {
		return python.RequestFromVersionFile(file.Requests[0])
	}

	if requiresPython != "" {
		return python.Request{Kind: python.RequestVersionRange, Version: requiresPython}
	}
	return python.Request{Kind: python.RequestAny}
}

func cmdPythonpath(ctx context.Context) (int, error) {
	sources := python.DefaultSources(defaultManagedInstallDir())
	interp, err := python.Discover(ctx, sources, python.Request{Kind: python.RequestAny}, python.PreferenceAny)
	if err != nil {
		return 1, err
	}
	fmt.Println(filepath.Join(interp.SysPrefix, "lib", "site-packages"))
	return 0, nil
}

func cmdCache(ctx context.Context, args []string) (int, error) {
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}

	dir := defaultCacheDir()
	c, err := cache.New(dir)
	if err != nil {
		return 1, err
	}

	switch arg {
	case "clean":
		if err := os.RemoveAll(c.Root); err != nil {
			return 1, err
		}
		fmt.Printf("removed cache at %s\n", c.Root)
		return 0, nil
	case "dir", "":
		fmt.Println(c.Root)
		return 0, nil
	default:
		fmt.Printf("spindle cache %s: unknown subcommand\n", arg)
		return 2, nil
	}
}

func cmdRun(ctx context.Context, args []string) (int, error) {
	if len(args) == 0 {
		fmt.Println("spindle run: no command specified")
		return 2, nil
	}

	m, path, err := project.Read("")
	if err != nil {
		return 1, err
	}

	envDir := filepath.Join(filepath.Dir(path), ".venv")
	sources := python.DefaultSources(defaultManagedInstallDir())
	req := resolvePythonRequest(filepath.Dir(path), m.RequiresPython)
	result, err := environment.Ensure(ctx, environment.Request{
		Root:           envDir,
		PythonRequest:  req,
		RequiresPython: m.RequiresPython,
		ProjectName:    m.Name,
		Sources:        sources,
	})
	if err != nil {
		return 1, err
	}

	cmd, err := rundispatch.Classify(args[0], args[1:], rundispatch.Flags{})
	if err != nil {
		return 1, err
	}

	execCmd, err := rundispatch.Build(ctx, cmd, result.Env.Interpreter.SysExecutable,
		[]string{filepath.Join(envDir, "bin")}, envDir)
	if err != nil {
		return 1, err
	}

	if err := execCmd.Start(); err != nil {
		return 1, err
	}
	if err := execCmd.Wait(); err != nil {
		if execCmd.ProcessState != nil {
			return execCmd.ProcessState.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("SPINDLE_CACHE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "spindle")
}

func defaultManagedInstallDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "spindle", "python")
}

// latestVersion picks the greatest non-yanked wheel version named in
// links. Only wheel filenames are considered sufficient to parse a version
// from; sdists are skipped here since their suffix-stripping rules vary by
// distribution.
func latestVersion(links []registry.Link) (version.Version, error) {
	var best version.Version
	found := false
	for _, link := range links {
		if link.Yanked {
			continue
		}
		wheel, err := distribution.ParseWheelFilename(link.Filename)
		if err != nil {
			continue
		}
		if !found || wheel.Version.GreaterThan(best) {
			best = wheel.Version
			found = true
		}
	}
	if !found {
		return version.Version{}, fmt.Errorf("no usable wheel release found")
	}
	return best, nil
}

func main() {
	exitCode, err := run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode)
}
