// Package rundispatch implements the run command dispatcher (spec.md
// §4.10): classifying an opaque target string plus trailing arguments into
// one of nine command shapes by eleven ordered rules, first rule wins.
// Grounded on the teacher's main.go switch-based subcommand dispatch; the
// rules are checked in order inside a single function.
package rundispatch

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spindle-dev/spindle/internal/xerrors"
)

// Kind names the shape of command Classify settled on.
type Kind int

const (
	KindStdinScript Kind = iota
	KindRemoteScript
	KindModule
	KindGUIScript
	KindScript
	KindBarePython
	KindPackage
	KindZipapp
	KindExternal
)

// Flags carries the CLI flags that influence classification (rules 3-5).
type Flags struct {
	Module    string
	GUIScript string
	Script    string
}

// Command is the result of classification: enough information to build an
// *exec.Cmd.
type Command struct {
	Kind       Kind
	Executable string
	Args       []string
	IsGUI      bool
}

const recursionDepthEnv = "SPINDLE_RUN_RECURSION_DEPTH"

// defaultRecursionLimit matches uv's shebang-loop guard; exceeding it means
// a script's shebang is almost certainly re-invoking itself.
const defaultRecursionLimit = 10

// Classify applies the eleven numbered rules from spec.md §4.10 in order
// and returns the first that fires.
func Classify(target string, args []string, flags Flags) (Command, error) {
	if target == "-" {
		return Command{Kind: KindStdinScript, Args: args}, nil
	}

	if isRemoteURL(target) {
		if _, err := os.Stat(target); err != nil {
			return Command{Kind: KindRemoteScript, Executable: target, Args: args}, nil
		}
	}

	if flags.Module != "" {
		return Command{Kind: KindModule, Executable: flags.Module, Args: args}, nil
	}
	if flags.GUIScript != "" {
		return Command{Kind: KindGUIScript, Executable: flags.GUIScript, Args: args, IsGUI: true}, nil
	}
	if flags.Script != "" {
		return Command{Kind: KindScript, Executable: flags.Script, Args: args}, nil
	}

	if strings.EqualFold(target, "python") {
		return Command{Kind: KindBarePython, Args: args}, nil
	}

	if hasSuffixFold(target, ".py", ".pyc") {
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			return Command{Kind: KindScript, Executable: target, Args: args}, nil
		}
	}

	if hasSuffixFold(target, ".pyw") {
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			return Command{Kind: KindGUIScript, Executable: target, Args: args, IsGUI: true}, nil
		}
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		if _, err := os.Stat(filepath.Join(target, "__main__.py")); err == nil {
			exe := target
			if entry, err := exec.LookPath(filepath.Base(target)); err == nil {
				exe = entry
			}
			return Command{Kind: KindPackage, Executable: exe, Args: args}, nil
		}
	}

	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		if isZipappWithMain(target) {
			return Command{Kind: KindZipapp, Executable: target, Args: args}, nil
		}
	}

	resolved, err := resolveExternal(target)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindExternal, Executable: resolved, Args: args}, nil
}

func isRemoteURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

func hasSuffixFold(s string, suffixes ...string) bool {
	lower := strings.ToLower(s)
	for _, suf := range suffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

func isZipappWithMain(path string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name == "__main__.py" {
			return true
		}
	}
	return false
}

func resolveExternal(target string) (string, error) {
	if path, err := exec.LookPath(target); err == nil {
		return path, nil
	}
	if runtime.GOOS == "windows" {
		if path, err := exec.LookPath(target + ".exe"); err == nil {
			return path, nil
		}
	}
	return "", xerrors.New(xerrors.KindMissingExecutable, "rundispatch.resolveExternal", fmt.Errorf("%s: command not found", target))
}

// Build constructs an *exec.Cmd for cmd, resolved against the given Python
// executable for the script/module/GUI/bare-python kinds, prepending the
// given PATH-prefix directories and enforcing the recursion-depth guard.
func Build(ctx context.Context, cmd Command, pythonExecutable string, pathPrefixes []string, virtualEnv string) (*exec.Cmd, error) {
	depth, err := nextRecursionDepth()
	if err != nil {
		return nil, err
	}

	var execCmd *exec.Cmd
	switch cmd.Kind {
	case KindStdinScript, KindScript, KindGUIScript, KindZipapp:
		execCmd = exec.CommandContext(ctx, pythonExecutable, append([]string{cmd.Executable}, cmd.Args...)...)
		if cmd.Kind == KindStdinScript {
			execCmd = exec.CommandContext(ctx, pythonExecutable, append([]string{"-"}, cmd.Args...)...)
			execCmd.Stdin = os.Stdin
		}
	case KindRemoteScript:
		// The caller is expected to have already streamed the remote
		// script into a local temp file and rewritten cmd.Executable to
		// point at it before calling Build.
		execCmd = exec.CommandContext(ctx, pythonExecutable, append([]string{cmd.Executable}, cmd.Args...)...)
	case KindModule:
		execCmd = exec.CommandContext(ctx, pythonExecutable, append([]string{"-m", cmd.Executable}, cmd.Args...)...)
	case KindBarePython:
		execCmd = exec.CommandContext(ctx, pythonExecutable, cmd.Args...)
	case KindPackage:
		execCmd = exec.CommandContext(ctx, pythonExecutable, append([]string{cmd.Executable}, cmd.Args...)...)
	default:
		execCmd = exec.CommandContext(ctx, cmd.Executable, cmd.Args...)
	}

	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	if execCmd.Stdin == nil {
		execCmd.Stdin = os.Stdin
	}

	env := os.Environ()
	if len(pathPrefixes) > 0 {
		env = prependPath(env, pathPrefixes)
	}
	if virtualEnv != "" {
		env = append(env, "VIRTUAL_ENV="+virtualEnv)
	}
	env = append(env, fmt.Sprintf("%s=%d", recursionDepthEnv, depth))
	execCmd.Env = env

	return execCmd, nil
}

func nextRecursionDepth() (int, error) {
	depth := 0
	if raw := os.Getenv(recursionDepthEnv); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil {
			depth = parsed
		}
	}
	if depth >= defaultRecursionLimit {
		return 0, xerrors.New(xerrors.KindInvalidEnvironment, "rundispatch.Build", fmt.Errorf("recursion depth %d exceeds limit %d; a shebang is likely re-invoking itself", depth, defaultRecursionLimit))
	}
	return depth + 1, nil
}

func prependPath(env []string, prefixes []string) []string {
	out := make([]string, 0, len(env))
	prefix := strings.Join(prefixes, string(os.PathListSeparator))
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+prefix+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+prefix)
	}
	return out
}
