package python

import (
	"testing"

	"github.com/spindle-dev/spindle/internal/pyversion"
)

func TestRequestFromVersionFilePlainRange(t *testing.T) {
	req := RequestFromVersionFile(pyversion.Request{Kind: pyversion.KindVersionRange, Text: "3.11"})
	if req.Kind != RequestVersionRange || req.Version != "3.11" {
		t.Fatalf("got %+v", req)
	}
}

func TestRequestFromVersionFileImplementationPrefix(t *testing.T) {
	req := RequestFromVersionFile(pyversion.Request{Kind: pyversion.KindVersionRange, Text: "pypy3.10"})
	if req.Kind != RequestImplementation || req.Implementation != "pypy" || req.Version != "3.10" {
		t.Fatalf("got %+v", req)
	}
}

func TestRequestFromVersionFilePath(t *testing.T) {
	req := RequestFromVersionFile(pyversion.Request{Kind: pyversion.KindPath, Text: "/opt/python/bin/python3"})
	if req.Kind != RequestPath || req.Path != "/opt/python/bin/python3" {
		t.Fatalf("got %+v", req)
	}
}
