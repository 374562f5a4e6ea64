package distribution

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spindle-dev/spindle/internal/xerrors"
	"github.com/spindle-dev/spindle/version"
)

// SdistSuffix returns the recognized source-distribution archive suffix of
// filename, or "" if it does not look like a source distribution.
func SdistSuffix(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".tar.gz"):
		return ".tar.gz"
	case strings.HasSuffix(filename, ".tgz"):
		return ".tgz"
	case strings.HasSuffix(filename, ".zip"):
		return ".zip"
	case strings.HasSuffix(filename, ".tar.bz2"):
		return ".tar.bz2"
	default:
		return ""
	}
}

// SdistFilename is the parsed form of a source distribution filename:
// {name}-{version}{suffix}.
type SdistFilename struct {
	Name     string
	Version  version.Version
	Filename string
	Suffix   string
}

// ParseSdistFilename parses filename, whose archive suffix has already been
// identified as suffix by SdistSuffix.
func ParseSdistFilename(filename, suffix string) (SdistFilename, error) {
	sep := strings.LastIndex(filename, "-")
	if sep < 0 {
		return SdistFilename{}, xerrors.New(xerrors.KindInvalidPath, "distribution.ParseSdistFilename", fmt.Errorf("expected <name>-<version>%s, got %s", suffix, filename))
	}

	versionString := strings.TrimSuffix(filename, suffix)[sep+1:]
	v, ok := version.Parse(versionString)
	if !ok {
		return SdistFilename{}, xerrors.New(xerrors.KindInvalidPath, "distribution.ParseSdistFilename", fmt.Errorf("invalid version %q", versionString))
	}

	return SdistFilename{
		Name:     filename[:sep],
		Version:  v,
		Filename: filename,
		Suffix:   suffix,
	}, nil
}

// BuiltWheel is what a SourceBuilder hands back after converting a source
// distribution into an installable wheel.
type BuiltWheel struct {
	Path string // absolute path to the built .whl on local disk
}

// SourceBuilder invokes a PEP 517 build backend (or a legacy shim) to turn
// an extracted sdist tree into a wheel. Actually implementing a build
// backend is out of scope (spec.md §1 Non-goals); DefaultSourceBuilder is
// the legacy setuptools shim the teacher's sdist.go used, kept as the
// built-in fallback for packages without a modern build backend.
type SourceBuilder interface {
	Build(ctx context.Context, extractedRoot string, sd SdistFilename) (BuiltWheel, error)
}

// setuptoolsShim mirrors pip's own shim for invoking legacy `setup.py`
// files that assume `__file__` and `sys.argv[0]` are set as if invoked
// directly.
//
// https://github.com/pypa/pip/blob/9cbe8fbdd0a1bd1bd4e483c9c0a556e9910ef8bb/src/pip/_internal/utils/setuptools_build.py#L14-L20
const setuptoolsShim = `import sys, setuptools, tokenize; sys.argv[0] = 'setup.py'; __file__='setup.py';f=getattr(tokenize, 'open', open)(__file__);code=f.read().replace('\r\n', '\n');f.close();exec(compile(code, __file__, 'exec'))`

// DefaultSourceBuilder shells out to PythonExecutable (`python3` on PATH
// when empty) and builds with
// setuptools' legacy `bdist_wheel` command.
type DefaultSourceBuilder struct {
	PythonExecutable string
}

// Build extracts no archive itself; extractedRoot must already contain the
// sdist's unpacked tree (see ExtractArchive).
func (b DefaultSourceBuilder) Build(ctx context.Context, extractedRoot string, sd SdistFilename) (BuiltWheel, error) {
	python := b.PythonExecutable
	if python == "" {
		python = "python3"
	}

	wheelDir, err := os.MkdirTemp("", fmt.Sprintf("%s-%s-wheel-*", sd.Name, sd.Version))
	if err != nil {
		return BuiltWheel{}, err
	}

	cmd := exec.CommandContext(ctx, python, "-c", setuptoolsShim, "bdist_wheel", "-d", wheelDir)
	cmd.Dir = extractedRoot
	// A project's own minimal-version-selected PYTHONPATH must not leak into
	// the build subprocess, or it may pick up dependencies too old for the
	// build backend itself.
	cmd.Env = append(os.Environ(), "PYTHONPATH=")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return BuiltWheel{}, xerrors.New(xerrors.KindInterpreterQueryFailed, "distribution.DefaultSourceBuilder.Build", fmt.Errorf("%w: %s", err, output))
	}

	matches, err := filepath.Glob(filepath.Join(wheelDir, "*.whl"))
	if err != nil {
		return BuiltWheel{}, err
	}
	if len(matches) != 1 {
		return BuiltWheel{}, xerrors.New(xerrors.KindInterpreterQueryFailed, "distribution.DefaultSourceBuilder.Build", fmt.Errorf("expected exactly one wheel in %s, found %d", wheelDir, len(matches)))
	}

	return BuiltWheel{Path: matches[0]}, nil
}

// ExtractArchive extracts a downloaded sdist archive (tar.gz/tgz/zip,
// selected via sd.Suffix) into destDir and returns the extracted project
// root (the archive's conventional top-level "{name}-{version}" directory).
// A .tar.bz2 archive, although recognized by SdistSuffix, is rejected with
// a KindInvalidPath error.
func ExtractArchive(body io.Reader, destDir string, sd SdistFilename) (string, error) {
	var err error
	switch sd.Suffix {
	case ".tar.gz", ".tgz":
		err = untar(body, destDir)
	case ".zip":
		err = unzipReader(body, destDir)
	default:
		return "", xerrors.New(xerrors.KindInvalidPath, "distribution.ExtractArchive", fmt.Errorf("unsupported source distribution suffix %q", sd.Suffix))
	}
	if err != nil {
		return "", err
	}

	root := filepath.Join(destDir, strings.TrimSuffix(sd.Filename, sd.Suffix))
	if _, statErr := os.Stat(root); errors.Is(statErr, os.ErrNotExist) {
		return "", xerrors.New(xerrors.KindMalformedZip, "distribution.ExtractArchive", fmt.Errorf("expected %s to exist after extraction", root))
	}
	return root, nil
}

func untar(body io.Reader, destDir string) error {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return xerrors.New(xerrors.KindMalformedZip, "distribution.untar", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return xerrors.New(xerrors.KindMalformedZip, "distribution.untar", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			// Some archives omit directory entries; MkdirAll on the regular
			// file's parent below covers them regardless.
			continue
		}

		target := filepath.Join(destDir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

func unzipReader(body io.Reader, destDir string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return xerrors.New(xerrors.KindMalformedZip, "distribution.unzipReader", err)
	}

	for _, file := range zr.File {
		if file.FileInfo().IsDir() {
			continue
		}

		f, err := file.Open()
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, file.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
			f.Close()
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			f.Close()
			return err
		}
		_, copyErr := io.Copy(dst, f)
		dst.Close()
		f.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
