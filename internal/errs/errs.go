// Package errs defines the structured errors returned by zvm's core
// operations. Each error type carries the fields a presentation layer needs
// to build an actionable message; none of them format user-facing hints.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that only care about the category.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindUpstreamNotFound
	KindChecksumMismatch
	KindPathTraversal
	KindDiskSpace
	KindLockContention
	KindVersionNotInstalled
	KindToolNotSupported
	KindVersionNotFound
	KindHomeDirectory
	KindPostInstall
	KindSignature
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUpstreamNotFound:
		return "upstream-not-found"
	case KindChecksumMismatch:
		return "checksum-mismatch"
	case KindPathTraversal:
		return "path-traversal"
	case KindDiskSpace:
		return "disk-space"
	case KindLockContention:
		return "lock-contention"
	case KindVersionNotInstalled:
		return "version-not-installed"
	case KindToolNotSupported:
		return "tool-not-supported"
	case KindVersionNotFound:
		return "version-not-found"
	case KindHomeDirectory:
		return "home-directory"
	case KindPostInstall:
		return "post-install"
	case KindSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// ErrHomeDirectoryUnresolvable is returned when neither ZVM_HOME nor the
// user's home directory can be determined.
var ErrHomeDirectoryUnresolvable = errors.New("cannot resolve home directory")

type kinded interface {
	Kind() Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, ErrHomeDirectoryUnresolvable) {
		return KindHomeDirectory
	}
	return KindUnknown
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NetworkError is a retryable transport failure: connection errors,
// timeouts, and 5xx responses.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network failure fetching %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network failure fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Kind() Kind    { return KindNetwork }

// UpstreamNotFoundError is a terminal 4xx response.
type UpstreamNotFoundError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamNotFoundError) Error() string {
	return fmt.Sprintf("upstream resource %s not available: HTTP %d", e.URL, e.StatusCode)
}

func (e *UpstreamNotFoundError) Kind() Kind { return KindUpstreamNotFound }

// ChecksumMismatchError reports a downloaded file whose SHA-256 digest does
// not match the published value.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Kind() Kind { return KindChecksumMismatch }

// ChecksumNotListedError reports a published checksum listing that has no
// entry for the archive being installed. It is classified with checksum
// mismatches: the archive cannot be verified against what upstream vouches for.
type ChecksumNotListedError struct {
	Listing string
	File    string
}

func (e *ChecksumNotListedError) Error() string {
	return fmt.Sprintf("checksum listing %s has no entry for %s", e.Listing, e.File)
}

func (e *ChecksumNotListedError) Kind() Kind { return KindChecksumMismatch }

// PathTraversalError reports an archive entry that would be written outside
// the extraction root.
type PathTraversalError struct {
	Archive string
	Entry   string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("archive %s: entry %q escapes the extraction root", e.Archive, e.Entry)
}

func (e *PathTraversalError) Kind() Kind { return KindPathTraversal }

// DiskSpaceError reports insufficient free space on the install filesystem.
type DiskSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: %d bytes required, %d available",
		e.Path, e.Required, e.Available)
}

func (e *DiskSpaceError) Kind() Kind { return KindDiskSpace }

// LockContentionError reports that another process holds the install lock.
type LockContentionError struct {
	Tool       string
	Version    string
	Path       string
	OwnerPID   int
	OwnerAlive bool
}

func (e *LockContentionError) Error() string {
	if e.OwnerPID > 0 {
		return fmt.Sprintf("installation of %s@%s already in progress (pid %d)", e.Tool, e.Version, e.OwnerPID)
	}
	return fmt.Sprintf("installation of %s@%s already in progress", e.Tool, e.Version)
}

func (e *LockContentionError) Kind() Kind { return KindLockContention }

// VersionNotInstalledError is returned by activation or uninstall of a
// version that has no toolchain directory.
type VersionNotInstalledError struct {
	Tool    string
	Version string
}

func (e *VersionNotInstalledError) Error() string {
	return fmt.Sprintf("%s@%s is not installed", e.Tool, e.Version)
}

func (e *VersionNotInstalledError) Kind() Kind { return KindVersionNotInstalled }

// ToolNotSupportedError is returned for tool names with no adapter.
type ToolNotSupportedError struct {
	Tool      string
	Supported []string
}

func (e *ToolNotSupportedError) Error() string {
	return fmt.Sprintf("tool %q is not supported", e.Tool)
}

func (e *ToolNotSupportedError) Kind() Kind { return KindToolNotSupported }

// VersionNotFoundError is returned when a version spec or alias matches
// nothing in the remote listing.
type VersionNotFoundError struct {
	Tool string
	Spec string
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("no %s version matches %q", e.Tool, e.Spec)
}

func (e *VersionNotFoundError) Kind() Kind { return KindVersionNotFound }

// PostInstallError wraps a failed post-install hook. The toolchain directory
// stays in place and is not activated.
type PostInstallError struct {
	Tool    string
	Version string
	Err     error
}

func (e *PostInstallError) Error() string {
	return fmt.Sprintf("post-install for %s@%s failed: %v", e.Tool, e.Version, e.Err)
}

func (e *PostInstallError) Unwrap() error { return e.Err }
func (e *PostInstallError) Kind() Kind    { return KindPostInstall }

// SignatureError reports a detached signature that failed to verify.
type SignatureError struct {
	Path   string
	Method string
	Err    error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s signature verification failed for %s: %v", e.Method, e.Path, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }
func (e *SignatureError) Kind() Kind    { return KindSignature }
