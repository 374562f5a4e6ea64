// Package pyversion reads `.python-version`/`.python-versions` files,
// spec.md §4.4. It walks ancestor directories from a starting point up to
// (and including) a stop boundary, then falls back to a user-global config
// directory, matching the ancestor-walk pattern internal/project.Find uses
// for the project manifest.
package pyversion

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	singleFilename = ".python-version"
	multiFilename  = ".python-versions"
)

// RequestKind mirrors internal/python.RequestKind without importing it, to
// keep this package free of any interpreter-discovery dependency; the two
// enums are kept in lockstep by internal/python's adapter.
type RequestKind int

const (
	KindVersionRange RequestKind = iota
	KindExecutableName
	KindPath
)

// Request is a single parsed line from a version file.
type Request struct {
	Kind RequestKind
	Text string // the raw requested string, e.g. "3.11", "pypy3.10"
}

// File is the result of a successful Lookup.
type File struct {
	Path     string
	Requests []Request
}

// PreferMulti controls the tie-break when both .python-version and
// .python-versions are present in the same directory.
type PreferMulti bool

// Lookup walks upward from startDir until it finds a version file or
// reaches stopBoundary (inclusive), then falls back to globalDir.
func Lookup(startDir, stopBoundary, globalDir string, preferMulti PreferMulti) (*File, error) {
	dir := startDir
	for {
		if f, err := readDirVersionFile(dir, preferMulti); err != nil {
			return nil, err
		} else if f != nil {
			return f, nil
		}

		if dir == stopBoundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if globalDir == "" {
		return nil, nil
	}
	return readDirVersionFile(globalDir, preferMulti)
}

func readDirVersionFile(dir string, preferMulti PreferMulti) (*File, error) {
	multiPath := filepath.Join(dir, multiFilename)
	singlePath := filepath.Join(dir, singleFilename)

	multiExists := exists(multiPath)
	singleExists := exists(singlePath)

	var path string
	switch {
	case multiExists && singleExists:
		if bool(preferMulti) {
			path = multiPath
		} else {
			path = singlePath
		}
	case multiExists:
		path = multiPath
	case singleExists:
		path = singlePath
	default:
		return nil, nil
	}

	return parseFile(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	result := &File{Path: path}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		req, ok := parseRequest(line)
		if !ok {
			// An executable-name request ("python3.11-special") is not
			// supported inside a version file; drop it with a warning
			// rather than fail the whole lookup.
			fmt.Fprintf(os.Stderr, "warning: %s: ignoring unsupported entry %q\n", path, line)
			continue
		}
		result.Requests = append(result.Requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return result, nil
}

func parseRequest(line string) (Request, bool) {
	if filepath.IsAbs(line) || strings.ContainsAny(line, "/\\") {
		return Request{Kind: KindPath, Text: line}, true
	}

	if looksLikeVersionRange(line) {
		return Request{Kind: KindVersionRange, Text: line}, true
	}

	// Bare executable names like "python3.11" are unsupported in version
	// files per spec.md §4.4.
	return Request{}, false
}

func looksLikeVersionRange(s string) bool {
	// Accept "3", "3.11", "3.11.4", "pypy3.10", "cpython-3.11": anything
	// whose first rune is a digit, or that carries an implementation
	// prefix followed by a digit somewhere.
	if s == "" {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return true
	}
	for _, impl := range []string{"cpython", "pypy", "graalpy"} {
		if strings.HasPrefix(s, impl) {
			return true
		}
	}
	return false
}
