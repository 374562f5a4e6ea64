// Package xerrors provides the typed error taxonomy shared by every
// component of spindle. Components wrap underlying causes with a Kind so
// callers can branch on error shape instead of matching strings.
package xerrors

import "fmt"

// Kind classifies an error without needing to inspect its message.
type Kind int

const (
	KindUnknown Kind = iota

	// Network kinds.
	KindTimeout
	KindStreamingUnsupported
	KindStreamingFailed
	KindHTTPStatus
	KindNetworkRequest
	KindPackageNotFound

	// Cache kinds.
	KindCacheRead
	KindCacheWrite
	KindCacheMissingArchive
	KindCachePointerDecode

	// Extract kinds.
	KindMalformedZip
	KindDiskFull
	KindHashMismatch

	// Interpreter kinds.
	KindInterpreterQueryFailed
	KindBrokenSymlink
	KindPython2Detected
	KindPyvenvDrift

	// Environment kinds.
	KindInvalidEnvironment
	KindMissingExecutable

	// Resolution kinds.
	KindLockedVersionIncompatible
	KindRequiresPythonIncompatible
	KindExtrasGroupsConflict
	KindUnsupportedBuildBackend

	// User input kinds.
	KindInvalidURL
	KindInvalidPath
	KindMalformedVersionFile
	KindInvalidConfigSetting
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindStreamingUnsupported:
		return "streaming-unsupported"
	case KindStreamingFailed:
		return "streaming-failed"
	case KindHTTPStatus:
		return "http-status"
	case KindNetworkRequest:
		return "network-request"
	case KindPackageNotFound:
		return "package-not-found"
	case KindCacheRead:
		return "cache-read"
	case KindCacheWrite:
		return "cache-write"
	case KindCacheMissingArchive:
		return "cache-missing-archive"
	case KindCachePointerDecode:
		return "cache-pointer-decode"
	case KindMalformedZip:
		return "malformed-zip"
	case KindDiskFull:
		return "disk-full"
	case KindHashMismatch:
		return "hash-mismatch"
	case KindInterpreterQueryFailed:
		return "interpreter-query-failed"
	case KindBrokenSymlink:
		return "broken-symlink"
	case KindPython2Detected:
		return "python2-detected"
	case KindPyvenvDrift:
		return "pyvenv-drift"
	case KindInvalidEnvironment:
		return "invalid-environment"
	case KindMissingExecutable:
		return "missing-executable"
	case KindLockedVersionIncompatible:
		return "locked-version-incompatible"
	case KindRequiresPythonIncompatible:
		return "requires-python-incompatible"
	case KindExtrasGroupsConflict:
		return "extras-groups-conflict"
	case KindUnsupportedBuildBackend:
		return "unsupported-build-backend"
	case KindInvalidURL:
		return "invalid-url"
	case KindInvalidPath:
		return "invalid-path"
	case KindMalformedVersionFile:
		return "malformed-version-file"
	case KindInvalidConfigSetting:
		return "invalid-config-setting"
	default:
		return "unknown"
	}
}

// Error is a kinded error carrying the operation that failed and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Timeout carries the request timeout for KindTimeout, so the caller can
	// render an actionable hint ("increase timeout").
	Timeout string
	// Source names where a requires-python requirement originated, for
	// KindRequiresPythonIncompatible ("from .python-version at ...").
	Source string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Source != "" {
		msg = fmt.Sprintf("%s (from %s)", msg, e.Source)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, xerrors.Sentinel(kind)) style matching, which
// compares two *Error by Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.Err == nil && other.Op == "" {
		// Sentinel comparison: only Kind matters.
		return e.Kind == other.Kind
	}
	return e.Kind == other.Kind && e.Op == other.Op
}

// New constructs a kinded error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel returns a zero-value *Error usable with errors.Is to test Kind
// only, e.g. errors.Is(err, xerrors.Sentinel(xerrors.KindStreamingFailed)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// IsStreamingUnsupported reports whether err (or a wrapped cause) signals
// that the server/transport does not support streaming extraction.
func IsStreamingUnsupported(err error) bool {
	var e *Error
	return asKind(err, &e) && e.Kind == KindStreamingUnsupported
}

// IsStreamingFailed reports whether err (or a wrapped cause) signals that a
// streaming extraction attempt failed mid-way and should be retried via
// download-then-extract.
func IsStreamingFailed(err error) bool {
	var e *Error
	return asKind(err, &e) && e.Kind == KindStreamingFailed
}

func asKind(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
