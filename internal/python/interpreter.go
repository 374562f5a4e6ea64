package python

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/spindle-dev/spindle/internal/xerrors"
	"github.com/spindle-dev/spindle/version"
)

// Interpreter is a concrete, queried Python executable. Once built from a
// query result it is never mutated.
type Interpreter struct {
	SysExecutable string
	SysPrefix     string
	BasePrefix    string
	Version       version.Version
	Implementation string
	Markers        map[string]string
	Platform       string
	Tags           []string // python-abi-platform tag triples this interpreter can load
	IsVirtualenv   bool
	GILDisabled    bool
	PointerSize    int
}

// queryResult mirrors the interpreter query wire format from spec.md §6.
type queryResult struct {
	Result  string `json:"result"`
	Markers struct {
		PythonVersion            string `json:"python_version"`
		PythonFullVersion        string `json:"python_full_version"`
		OSName                   string `json:"os_name"`
		SysPlatform              string `json:"sys_platform"`
		PlatformMachine          string `json:"platform_machine"`
		PlatformPythonImpl       string `json:"platform_python_implementation"`
		ImplementationName       string `json:"implementation_name"`
	} `json:"markers"`
	SysBasePrefix string `json:"sys_base_prefix"`
	SysPrefix     string `json:"sys_prefix"`
	SysExecutable string `json:"sys_executable"`
	PointerSize   int    `json:"pointer_size"`
	GILDisabled   bool   `json:"gil_disabled"`
}

// query errors, distinguished so discovery can classify a Python 2
// interpreter rather than reporting a generic "not found".
var python2Marker = []byte("print ") // a bare `print` statement is a syntax error under Python 3

type queryCacheKey struct {
	path  string
	mtime int64
}

var queryCache sync.Map // queryCacheKey -> *Interpreter

// Query runs the interpreter query script against executablePath and parses
// its JSON result into an Interpreter. Results are memoized per-process
// keyed by (path, mtime) so repeated discovery passes over the same PATH
// do not re-spawn a subprocess for every candidate.
func Query(ctx context.Context, executablePath string) (*Interpreter, error) {
	info, err := os.Stat(executablePath)
	if err != nil {
		return nil, xerrors.New(xerrors.KindMissingExecutable, "python.Query", err)
	}

	key := queryCacheKey{path: executablePath, mtime: info.ModTime().UnixNano()}
	if cached, ok := queryCache.Load(key); ok {
		return cached.(*Interpreter), nil
	}

	cmd := exec.CommandContext(ctx, executablePath, "-c", queryScript)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if bytes.Contains(stderr.Bytes(), python2Marker) {
			return nil, xerrors.New(xerrors.KindPython2Detected, "python.Query", fmt.Errorf("%s appears to be Python 2: %s", executablePath, stderr.String()))
		}
		return nil, xerrors.New(xerrors.KindInterpreterQueryFailed, "python.Query", fmt.Errorf("%w: %s", err, stderr.String()))
	}

	var res queryResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, xerrors.New(xerrors.KindInterpreterQueryFailed, "python.Query", err)
	}
	if res.Result != "success" {
		return nil, xerrors.New(xerrors.KindInterpreterQueryFailed, "python.Query", fmt.Errorf("query reported result=%q", res.Result))
	}

	v, ok := version.Parse(res.Markers.PythonFullVersion)
	if !ok {
		return nil, xerrors.New(xerrors.KindInterpreterQueryFailed, "python.Query", fmt.Errorf("invalid python_full_version %q", res.Markers.PythonFullVersion))
	}

	interp := &Interpreter{
		SysExecutable:  res.SysExecutable,
		SysPrefix:      res.SysPrefix,
		BasePrefix:     res.SysBasePrefix,
		Version:        v,
		Implementation: res.Markers.ImplementationName,
		Markers: map[string]string{
			"os_name":                         res.Markers.OSName,
			"sys_platform":                    res.Markers.SysPlatform,
			"platform_machine":                res.Markers.PlatformMachine,
			"platform_python_implementation":  res.Markers.PlatformPythonImpl,
			"implementation_name":             res.Markers.ImplementationName,
			"python_version":                  res.Markers.PythonVersion,
			"python_full_version":             res.Markers.PythonFullVersion,
		},
		Platform:     res.Markers.SysPlatform,
		IsVirtualenv: res.SysPrefix != res.SysBasePrefix,
		GILDisabled:  res.GILDisabled,
		PointerSize:  res.PointerSize,
	}

	queryCache.Store(key, interp)
	return interp, nil
}

// queryScript is run via `<executable> -c queryScript`; it prints the
// interpreter query wire format as a single line of JSON.
const queryScript = `
import json, platform, sys
print(json.dumps({
    "result": "success",
    "markers": {
        "python_version": platform.python_version()[:platform.python_version().rfind('.')],
        "python_full_version": platform.python_version(),
        "os_name": "posix" if sys.platform != "win32" else "nt",
        "sys_platform": sys.platform,
        "platform_machine": platform.machine(),
        "platform_python_implementation": platform.python_implementation(),
        "implementation_name": sys.implementation.name,
    },
    "sys_base_prefix": getattr(sys, "base_prefix", sys.prefix),
    "sys_prefix": sys.prefix,
    "sys_executable": sys.executable,
    "pointer_size": 64 if sys.maxsize > 2**32 else 32,
    "gil_disabled": bool(getattr(sys, "_is_gil_enabled", lambda: True)() == False),
}))
`

// MarkerEnvironment adapts an Interpreter into a pep508.Environment-style
// lookup table for marker evaluation.
func (i *Interpreter) MarkerEnvironment() map[string]string {
	return i.Markers
}
