// Package python implements interpreter discovery (spec.md §4.5): locating,
// querying, and ranking candidate Python executables against a
// PythonRequest. It is the module's own replacement for the teacher's
// undefined `Environment` global -- the rope pack referenced an
// `env *Environment` value throughout wheel.go/index.go/main.go that was
// never declared anywhere in the repository, so the data model here is
// built fresh from spec.md §3 rather than imitated.
package python

import "fmt"

// RequestKind enumerates the shapes a PythonRequest may take.
type RequestKind int

const (
	RequestAny RequestKind = iota
	RequestDefault
	RequestVersionRange
	RequestExecutableName
	RequestImplementation
	RequestPath
	RequestDirectory
	RequestKey
)

// Request is an abstract request for an interpreter.
type Request struct {
	Kind           RequestKind
	Version        string // for VersionRange/Key: e.g. ">=3.10,<3.13" or "3.11"
	Implementation string // for Implementation/Key: "cpython", "pypy", "graalpy"
	Name           string // for ExecutableName
	Path           string // for Path/Directory
	FreeThreaded   bool
}

func (r Request) String() string {
	switch r.Kind {
	case RequestAny:
		return "any"
	case RequestDefault:
		return "default"
	case RequestVersionRange:
		return r.Version
	case RequestExecutableName:
		return r.Name
	case RequestImplementation:
		if r.Version != "" {
			return fmt.Sprintf("%s@%s", r.Implementation, r.Version)
		}
		return r.Implementation
	case RequestPath:
		return r.Path
	case RequestDirectory:
		return r.Path
	case RequestKey:
		return fmt.Sprintf("%s-%s", r.Implementation, r.Version)
	default:
		return "unknown"
	}
}
