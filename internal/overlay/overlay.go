// Package overlay implements the ephemeral overlay (spec.md §4.9): a
// minimal virtual environment hosting `--with` packages while delegating
// sys.path to two lower environments. It is grounded on the teacher's
// wheel.go unzip loop for its buffered copy/permission-preserving I/O
// pattern, adapted here for entrypoint-script propagation instead of wheel
// extraction.
package overlay

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spindle-dev/spindle/internal/environment"
)

//go:embed templates/usercustomize.py.tmpl
var templates embed.FS

// LowerEnvironment is one of the two environments an overlay delegates to.
type LowerEnvironment struct {
	SitePackages string
	ScriptsDir   string
	DataDir      string
}

// Overlay is a constructed ephemeral environment.
type Overlay struct {
	Env  *environment.PythonEnvironment
	Root string
}

// Build runs the six construction steps from spec.md §4.9. with is tried
// first on sys.path, then base.
func Build(base *environment.PythonEnvironment, withEnv, baseEnv LowerEnvironment, root string) (*Overlay, error) {
	env, err := buildFreshEnvironment(base, root)
	if err != nil {
		return nil, err
	}

	if err := writeSiteCustomization(env, withEnv.SitePackages, baseEnv.SitePackages); err != nil {
		return nil, err
	}

	for _, lower := range []LowerEnvironment{withEnv, baseEnv} {
		if lower.ScriptsDir == "" {
			continue
		}
		if err := copyEntrypoints(lower.ScriptsDir, scriptsDir(env.Root), env.Interpreter.SysExecutable); err != nil {
			return nil, err
		}
	}

	for _, lower := range []LowerEnvironment{withEnv, baseEnv} {
		if lower.DataDir == "" {
			continue
		}
		if err := symlinkJupyterDirs(lower.DataDir, env.Root); err != nil {
			return nil, err
		}
	}

	env.Cfg.ExtendsEnvironment = base.Interpreter.SysPrefix
	env.Cfg.IncludeSystemSitePackages = base.Cfg.IncludeSystemSitePackages
	if err := rewritePyvenvCfg(env); err != nil {
		return nil, err
	}

	return &Overlay{Env: env, Root: env.Root}, nil
}

func buildFreshEnvironment(base *environment.PythonEnvironment, root string) (*environment.PythonEnvironment, error) {
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o777); err != nil {
		return nil, err
	}
	if err := os.Symlink(base.Interpreter.SysExecutable, filepath.Join(root, "bin", "python3")); err != nil && !os.IsExist(err) {
		return nil, err
	}
	return &environment.PythonEnvironment{Root: root, Interpreter: base.Interpreter}, nil
}

func scriptsDir(root string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, "Scripts")
	}
	return filepath.Join(root, "bin")
}

// writeSiteCustomization writes a usercustomize.py that appends the
// --with environment's site-packages, then the base environment's, to
// sys.path. Order matters: --with packages must shadow base packages.
func writeSiteCustomization(env *environment.PythonEnvironment, withSite, baseSite string) error {
	tmpl, err := templates.ReadFile("templates/usercustomize.py.tmpl")
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, string(tmpl), withSite, baseSite)

	libDir := filepath.Join(env.Root, "lib", "site-packages")
	if err := os.MkdirAll(libDir, 0o777); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(libDir, "usercustomize.py"), buf.Bytes(), 0o666)
}

// copyEntrypoints copies each script in srcDir into dstDir, rewriting a
// leading shebang to point at newInterpreter. Idempotent: existing
// destination files are left untouched so repeated overlay construction
// against the same temp root does not clobber prior copies.
func copyEntrypoints(srcDir, dstDir, newInterpreter string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(dstDir, 0o777); err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dst := filepath.Join(dstDir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue // already propagated by an earlier lower environment
		}

		info, err := e.Info()
		if err != nil {
			return err
		}
		if err := copyWithShebangRewrite(filepath.Join(srcDir, e.Name()), dst, newInterpreter, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyWithShebangRewrite(src, dst, newInterpreter string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	first, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	if len(first) > 1 && first[0] == '#' && first[1] == '!' {
		fmt.Fprintf(writer, "#!%s\n", newInterpreter)
	} else {
		writer.WriteString(first)
	}

	_, err = io.Copy(writer, reader)
	return err
}

// symlinkJupyterDirs links etc/jupyter and share/jupyter from lowerDataDir
// into the overlay root, skipping any that don't exist in the source.
func symlinkJupyterDirs(lowerDataDir, overlayRoot string) error {
	for _, rel := range []string{filepath.Join("etc", "jupyter"), filepath.Join("share", "jupyter")} {
		src := filepath.Join(lowerDataDir, rel)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(overlayRoot, rel)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
			return err
		}
		if err := os.Symlink(src, dst); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

func rewritePyvenvCfg(env *environment.PythonEnvironment) error {
	path := filepath.Join(env.Root, "pyvenv.cfg")
	var b bytes.Buffer
	fmt.Fprintf(&b, "home = %s\n", filepath.Dir(env.Interpreter.SysExecutable))
	fmt.Fprintf(&b, "version = %s\n", env.Interpreter.Version.String())
	fmt.Fprintf(&b, "include-system-site-packages = %s\n", boolString(env.Cfg.IncludeSystemSitePackages))
	if env.Cfg.ExtendsEnvironment != "" {
		fmt.Fprintf(&b, "extends-environment = %s\n", env.Cfg.ExtendsEnvironment)
	}
	return os.WriteFile(path, b.Bytes(), 0o666)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
