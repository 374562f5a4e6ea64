// Package environment implements the environment factory (spec.md §4.8):
// given a target directory and a Python request, it yields a usable
// PythonEnvironment, reusing a compatible existing one and otherwise
// creating a fresh one. It is grounded on the teacher's lack of any
// equivalent (rope never modeled virtual environments at all, only
// installing wheels into a flat `./ropedir`), built fresh against
// spec.md's eight-step procedure using internal/python for interpreter
// discovery/query and gofrs/flock for the process-scoped lock.
package environment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/spindle-dev/spindle/internal/python"
	"github.com/spindle-dev/spindle/internal/xerrors"
	"github.com/spindle-dev/spindle/version"
)

// Outcome reports which branch of the factory's procedure produced the
// environment.
type Outcome int

const (
	Existing Outcome = iota
	Replaced
	Created
	WouldReplace
	WouldCreate
)

func (o Outcome) String() string {
	switch o {
	case Existing:
		return "existing"
	case Replaced:
		return "replaced"
	case Created:
		return "created"
	case WouldReplace:
		return "would-replace"
	case WouldCreate:
		return "would-create"
	default:
		return "unknown"
	}
}

// Invalid classifies why a directory does not already hold a usable
// environment.
type Invalid int

const (
	InvalidNone Invalid = iota
	InvalidNotDirectory
	InvalidMissingExecutable
	InvalidEmpty
	InvalidPyvenvMissing
)

// PythonEnvironment is a usable environment rooted at Root.
type PythonEnvironment struct {
	Root        string
	Interpreter *python.Interpreter
	Cfg         PyvenvConfig
}

// PyvenvConfig is the parsed key/value contents of a pyvenv.cfg.
type PyvenvConfig struct {
	Home                       string
	Version                    string
	Prompt                     string
	IncludeSystemSitePackages  bool
	ExtendsEnvironment         string
}

// Request bundles the inputs to Ensure.
type Request struct {
	Root           string
	PythonRequest  python.Request
	RequiresPython string
	ProjectName    string
	NoSync         bool
	DryRun         bool
	Sources        []python.Source
}

// Result is what Ensure returns.
type Result struct {
	Env     *PythonEnvironment
	Outcome Outcome
}

// Ensure runs the eight-step factory procedure from spec.md §4.8.
func Ensure(ctx context.Context, req Request) (*Result, error) {
	lockPath := lockFilePath(req.Root)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o777); err != nil {
		return nil, xerrors.New(xerrors.KindInvalidEnvironment, "environment.Ensure", err)
	}
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return nil, xerrors.New(xerrors.KindInvalidEnvironment, "environment.Ensure", err)
	}
	defer fl.Unlock()

	status, interp := inspect(ctx, req.Root, req)
	switch status {
	case InvalidNone:
		if compatible(interp, req) {
			return &Result{Env: &PythonEnvironment{Root: req.Root, Interpreter: interp}, Outcome: Existing}, nil
		}
		if req.NoSync {
			return &Result{Env: &PythonEnvironment{Root: req.Root, Interpreter: interp}, Outcome: Existing}, nil
		}
	case InvalidMissingExecutable:
		return nil, xerrors.New(xerrors.KindInvalidEnvironment, "environment.Ensure", fmt.Errorf("environment at %s is non-empty but its interpreter is missing", req.Root))
	}

	// Not compatible (or didn't exist): discover/install a satisfying
	// interpreter, then validate requires-python against it.
	newInterp, err := python.Discover(ctx, req.Sources, req.PythonRequest, python.PreferenceAny)
	if err != nil {
		return nil, err
	}

	if req.RequiresPython != "" {
		rp, err := version.ParseRequiresPython(req.RequiresPython)
		if err != nil {
			return nil, xerrors.New(xerrors.KindRequiresPythonIncompatible, "environment.Ensure", err)
		}
		if !rp.Contains(newInterp.Version) {
			return nil, &xerrors.Error{
				Kind:   xerrors.KindRequiresPythonIncompatible,
				Op:     "environment.Ensure",
				Err:    fmt.Errorf("interpreter %s does not satisfy requires-python %s", newInterp.Version, req.RequiresPython),
				Source: "project metadata",
			}
		}
	}

	outcome := Created
	root := req.Root
	if req.DryRun {
		tmp, err := os.MkdirTemp("", "spindle-env-*")
		if err != nil {
			return nil, err
		}
		root = tmp
		if interp != nil {
			outcome = WouldReplace
		} else {
			outcome = WouldCreate
		}
	} else if interp != nil {
		if err := replaceEnvironment(req.Root); err != nil {
			return nil, err
		}
		outcome = Replaced
	}

	env, err := create(root, newInterp, req.ProjectName)
	if err != nil {
		return nil, err
	}

	return &Result{Env: env, Outcome: outcome}, nil
}

func lockFilePath(root string) string {
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(os.TempDir(), "spindle-env-locks", hex.EncodeToString(sum[:])[:16]+".lock")
}

func inspect(ctx context.Context, root string, req Request) (Invalid, *python.Interpreter) {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		return InvalidEmpty, nil
	}
	if err != nil || !info.IsDir() {
		return InvalidNotDirectory, nil
	}

	cfgPath := filepath.Join(root, "pyvenv.cfg")
	cfg, err := readPyvenvCfg(cfgPath)
	if err != nil {
		entries, _ := os.ReadDir(root)
		if len(entries) == 0 {
			return InvalidEmpty, nil
		}
		return InvalidPyvenvMissing, nil
	}

	executable := filepath.Join(root, "bin", "python3")
	if _, err := os.Stat(executable); errors.Is(err, os.ErrNotExist) {
		executable = filepath.Join(root, "Scripts", "python.exe")
	}

	interp, err := python.Query(ctx, executable)
	if err != nil {
		return InvalidMissingExecutable, nil
	}

	if cfg.Version != "" {
		cfgVersion, ok := version.Parse(cfg.Version)
		if ok && !cfgVersion.Equal(interp.Version) {
			// Pyvenv drift: any non-equal full version is treated as
			// drift, not just a major-version change.
			return InvalidPyvenvMissing, interp
		}
	}

	return InvalidNone, interp
}

func compatible(interp *python.Interpreter, req Request) bool {
	if interp == nil {
		return false
	}
	if req.RequiresPython != "" {
		rp, err := version.ParseRequiresPython(req.RequiresPython)
		if err == nil && !rp.Contains(interp.Version) {
			return false
		}
	}
	return true
}

// replaceEnvironment removes an existing environment directory. It refuses
// to delete anything that is not recognizably a virtual environment or an
// empty directory, so a misconfigured target path is never silently wiped.
func replaceEnvironment(root string) error {
	if _, err := os.Stat(filepath.Join(root, "pyvenv.cfg")); err != nil {
		entries, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		if len(entries) != 0 {
			return xerrors.New(xerrors.KindInvalidEnvironment, "environment.replaceEnvironment", fmt.Errorf("refusing to delete non-empty, non-virtualenv directory %s", root))
		}
	}
	return os.RemoveAll(root)
}

func create(root string, interp *python.Interpreter, projectName string) (*PythonEnvironment, error) {
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o777); err != nil {
		return nil, err
	}
	if err := os.Symlink(interp.SysExecutable, filepath.Join(root, "bin", "python3")); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, xerrors.New(xerrors.KindInvalidEnvironment, "environment.create", err)
	}

	cfg := PyvenvConfig{
		Home:    filepath.Dir(interp.SysExecutable),
		Version: interp.Version.String(),
		Prompt:  projectName,
	}
	if err := writePyvenvCfg(filepath.Join(root, "pyvenv.cfg"), cfg); err != nil {
		return nil, err
	}

	return &PythonEnvironment{Root: root, Interpreter: interp, Cfg: cfg}, nil
}
