// Package distribution implements spec.md §4.6, the distribution database:
// given a wheel or sdist filename and a source (cache, local path, or
// registry URL), it materializes the unzipped payload into the
// content-addressed cache and extracts the Core Metadata needed for
// dependency resolution. It is adapted from the teacher's wheel.go and
// sdist.go, generalized from a single package-global cache/environment pair
// into values threaded through each call.
package distribution

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spindle-dev/spindle/internal/cache"
	"github.com/spindle-dev/spindle/internal/xerrors"
	"github.com/spindle-dev/spindle/version"
)

// WheelFilename is the parsed form of a PEP 427 wheel filename:
// {name}-{version}(-{build})?-{python tag}-{abi tag}-{platform tag}.whl
type WheelFilename struct {
	Name     string
	Version  version.Version
	Build    string
	Filename string

	// Tags is the cross product of the python/abi/platform tag triples,
	// e.g. "cp311-cp311-manylinux_2_17_x86_64".
	Tags []string
}

// ParseWheelFilename parses filename per PEP 427's naming convention.
func ParseWheelFilename(filename string) (WheelFilename, error) {
	trimmed := strings.TrimSuffix(filename, ".whl")
	if trimmed == filename {
		return WheelFilename{}, xerrors.New(xerrors.KindInvalidPath, "distribution.ParseWheelFilename", fmt.Errorf("not a wheel filename: %s", filename))
	}

	parts := strings.Split(trimmed, "-")
	build := ""
	switch {
	case len(parts) < 5:
		return WheelFilename{}, xerrors.New(xerrors.KindInvalidPath, "distribution.ParseWheelFilename", fmt.Errorf("expected at least 5 dash-separated parts: %s", filename))
	case len(parts) == 6:
		build = parts[2]
	case len(parts) > 6:
		return WheelFilename{}, xerrors.New(xerrors.KindInvalidPath, "distribution.ParseWheelFilename", fmt.Errorf("expected at most 6 dash-separated parts: %s", filename))
	}

	v, ok := version.Parse(parts[1])
	if !ok {
		return WheelFilename{}, xerrors.New(xerrors.KindInvalidPath, "distribution.ParseWheelFilename", fmt.Errorf("invalid version %q in wheel filename", parts[1]))
	}

	var tags []string
	for _, interp := range strings.Split(parts[len(parts)-3], ".") {
		for _, abi := range strings.Split(parts[len(parts)-2], ".") {
			for _, platform := range strings.Split(parts[len(parts)-1], ".") {
				tags = append(tags, fmt.Sprintf("%s-%s-%s", interp, abi, platform))
			}
		}
	}

	return WheelFilename{
		Name:     parts[0],
		Version:  v,
		Build:    build,
		Filename: filename,
		Tags:     tags,
	}, nil
}

// TagPreference scores how well name's tags match the interpreter tags
// supported, in descending priority order (index 0 is most preferred). It
// returns -1 when no tag matches, meaning the wheel is incompatible.
func (w WheelFilename) TagPreference(supported []string) int {
	best := -1
	for _, tag := range w.Tags {
		for priority, s := range supported {
			if s == tag {
				score := len(supported) - priority
				if score > best {
					best = score
				}
			}
		}
	}
	return best
}

// Metadata is the subset of Core Metadata (PEP 566) ExtractMetadata reads
// out of a wheel's METADATA file.
type Metadata struct {
	Name           string
	Version        string
	RequiresDist   []string
	RequiresPython string
}

// ExtractMetadata reads the METADATA file of the wheel at path. path is
// either a local wheel file (downloaded and hash-verified by the caller) or
// an unpacked archive directory such as CachePath returns.
func ExtractMetadata(path string) (Metadata, error) {
	if matches, _ := filepath.Glob(filepath.Join(path, "*.dist-info", "METADATA")); len(matches) == 1 {
		f, err := os.Open(matches[0])
		if err != nil {
			return Metadata{}, xerrors.New(xerrors.KindCacheRead, "distribution.ExtractMetadata", err)
		}
		defer f.Close()
		return scanMetadata(f)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}, xerrors.New(xerrors.KindMalformedZip, "distribution.ExtractMetadata", err)
	}
	defer zr.Close()

	var metadataFile *zip.File
	for _, f := range zr.File {
		if filepath.Base(f.Name) == "METADATA" {
			metadataFile = f
			break
		}
	}
	if metadataFile == nil {
		return Metadata{}, xerrors.New(xerrors.KindMalformedZip, "distribution.ExtractMetadata", fmt.Errorf("METADATA not found in %s", path))
	}

	rc, err := metadataFile.Open()
	if err != nil {
		return Metadata{}, xerrors.New(xerrors.KindMalformedZip, "distribution.ExtractMetadata", err)
	}
	defer rc.Close()
	return scanMetadata(rc)
}

func scanMetadata(r io.Reader) (Metadata, error) {
	var md Metadata
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "Name:"):
			md.Name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "Version:"):
			md.Version = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
		case strings.HasPrefix(line, "Requires-Dist:"):
			md.RequiresDist = append(md.RequiresDist, strings.TrimSpace(strings.TrimPrefix(line, "Requires-Dist:")))
		case strings.HasPrefix(line, "Requires-Python:"):
			md.RequiresPython = strings.TrimSpace(strings.TrimPrefix(line, "Requires-Python:"))
		case line == "":
			// Core Metadata's headers end at the first blank line; the
			// long-form description follows and is of no interest here.
			return md, scanner.Err()
		}
	}
	return md, scanner.Err()
}

// Unpack extracts every file in the wheel at wheelPath into destDir,
// preserving file mode and skipping directory entries (MkdirAll handles
// parent directories implicitly). An entry that records no file mode is
// written read-only (0444).
func Unpack(ctx context.Context, wheelPath, destDir string) error {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return xerrors.New(xerrors.KindMalformedZip, "distribution.Unpack", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if file.FileInfo().IsDir() {
			continue
		}
		if err := extractZipEntry(file, destDir); err != nil {
			return err
		}
	}
	return nil
}

// extractZipEntry writes a single zip entry's contents into destDir,
// shared by both Unpack's whole-archive pass and StreamUnpack's
// range-request-driven pass over the same *zip.File type.
func extractZipEntry(file *zip.File, destDir string) error {
	target := filepath.Join(destDir, file.Name)
	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return xerrors.New(xerrors.KindDiskFull, "distribution.extractZipEntry", err)
	}

	src, err := file.Open()
	if err != nil {
		return xerrors.New(xerrors.KindMalformedZip, "distribution.extractZipEntry", err)
	}

	mode := file.Mode()
	if mode == 0 {
		mode = 0o444
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		src.Close()
		return xerrors.New(xerrors.KindDiskFull, "distribution.extractZipEntry", err)
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	src.Close()
	if copyErr != nil {
		return xerrors.New(xerrors.KindDiskFull, "distribution.extractZipEntry", copyErr)
	}
	if closeErr != nil {
		return xerrors.New(xerrors.KindDiskFull, "distribution.extractZipEntry", closeErr)
	}
	return nil
}

// CachePath resolves the unpacked, ready-to-link directory for a cached
// archive.
func CachePath(c *cache.Cache, id cache.ArchiveID) string {
	return c.ArchivePath(id)
}
