// Package verify checks the integrity and authenticity of downloaded
// toolchain archives: SHA-256 digests, published checksum files, and detached
// minisign or OpenPGP signatures.
package verify

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Method indicates how an archive was verified.
type Method int

const (
	// MethodNone means upstream publishes no checksum; the archive is unverified.
	MethodNone Method = iota
	// MethodSHA256 means the SHA-256 digest matched the published value.
	MethodSHA256
	// MethodMinisign means a minisign signature verified in addition to any digest.
	MethodMinisign
	// MethodPGP means an OpenPGP signature verified in addition to any digest.
	MethodPGP
)

// String returns the string representation of the verification method
func (m Method) String() string {
	switch m {
	case MethodNone:
		return "unverified"
	case MethodSHA256:
		return "sha256"
	case MethodMinisign:
		return "minisign"
	case MethodPGP:
		return "pgp"
	default:
		return "unknown"
	}
}

// SHA256File calculates the SHA-256 checksum of a file.
func SHA256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// EqualChecksum compares two hex digests case-insensitively. An optional
// "sha256:" prefix on either side is ignored.
func EqualChecksum(a, b string) bool {
	return strings.EqualFold(normalizeDigest(a), normalizeDigest(b))
}

func normalizeDigest(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 && strings.EqualFold(s[:i], "sha256") {
		s = s[i+1:]
	}
	return s
}

// FindChecksum finds the digest for filename in a checksum listing such as
// SHASUMS256.txt. Lines look like "abc123  file.tar.gz", optionally with a
// "*" binary marker or a leading path on the file name.
func FindChecksum(listing []byte, filename string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		name := strings.TrimPrefix(parts[1], "*")
		if name == filename || filepath.Base(name) == filename {
			return parts[0], true
		}
	}
	return "", false
}

// SingleChecksum parses a ".sha256" sidecar that holds one digest, with or
// without a trailing file name.
func SingleChecksum(content []byte) (string, error) {
	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	digest := fields[0]
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed sha256 digest %q", digest)
	}
	return digest, nil
}
