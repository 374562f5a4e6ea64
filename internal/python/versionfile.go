package python

import (
	"strings"

	"github.com/spindle-dev/spindle/internal/pyversion"
)

// RequestFromVersionFile adapts a pyversion.Request (parsed from a
// `.python-version`/`.python-versions` line) into this package's richer
// Request, splitting an implementation prefix like "pypy3.10" from its
// version range the way a version file author intends it.
func RequestFromVersionFile(r pyversion.Request) Request {
	switch r.Kind {
	case pyversion.KindPath:
		return Request{Kind: RequestPath, Path: r.Text}
	case pyversion.KindExecutableName:
		return Request{Kind: RequestExecutableName, Name: r.Text}
	case pyversion.KindVersionRange:
		if impl, version, ok := splitImplementationPrefix(r.Text); ok {
			return Request{Kind: RequestImplementation, Implementation: impl, Version: version}
		}
		return Request{Kind: RequestVersionRange, Version: r.Text}
	default:
		return Request{Kind: RequestAny}
	}
}

func splitImplementationPrefix(s string) (impl, version string, ok bool) {
	for _, name := range []string{"cpython", "pypy", "graalpy"} {
		if !strings.HasPrefix(s, name) {
			continue
		}
		rest := strings.TrimPrefix(s, name)
		rest = strings.TrimPrefix(rest, "-")
		if rest == "" {
			return name, "", true
		}
		return name, rest, true
	}
	return "", "", false
}
