// Package adapter defines the capability contract each managed runtime plugs
// into, the registry that selects an adapter by tool name, and the fuzzy
// version resolution shared by all of them.
//
// Built-in adapters cover node, go, java (Temurin) and rust. Additional tools
// can be described in sandboxed Lua plugins under <root>/plugins.
package adapter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ZebulonRouseFrantzich/zvm/internal/verify"
)

// Binary is one executable a toolchain exposes, relative to the toolchain root.
type Binary struct {
	Name    string
	Subpath string
}

// Version is one entry of a remote listing.
type Version struct {
	Version string `json:"version"`
	LTS     string `json:"lts,omitempty"`
}

// Tool is implemented by every runtime adapter.
type Tool interface {
	Name() string
	// ListRemote returns available versions, newest first.
	ListRemote(ctx context.Context) ([]Version, error)
	DownloadURL(ctx context.Context, version string) (string, error)
	// Checksum returns the published SHA-256, or "" when upstream publishes none.
	Checksum(ctx context.Context, version string) (string, error)
	Binaries() []Binary
	// PostInstall runs once after placement and before activation.
	PostInstall(ctx context.Context, installDir string) error
}

// AliasResolver maps named channels ("latest", "lts") to exact versions.
type AliasResolver interface {
	ResolveAlias(alias string, listing []Version) (string, bool)
}

// ExactVersioner overrides the default "two dots means exact" rule.
type ExactVersioner interface {
	IsExact(version string) bool
}

// SignatureProvider supplies a detached signature for an archive.
// A nil signature with a nil error means none is published.
type SignatureProvider interface {
	Signature(ctx context.Context, version string) (*verify.Signature, error)
}

// ToolSpec is a tool name with a version, alias, or prefix.
type ToolSpec struct {
	Tool    string
	Version string
}

// String returns "tool@version".
func (s ToolSpec) String() string {
	if s.Version == "" {
		return s.Tool
	}
	return s.Tool + "@" + s.Version
}

// ParseToolSpec parses "name@version". A bare name has an empty version.
func ParseToolSpec(spec string) (ToolSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ToolSpec{}, fmt.Errorf("empty tool spec")
	}

	name, version, _ := strings.Cut(spec, "@")
	if name == "" {
		return ToolSpec{}, fmt.Errorf("missing tool name in %q", spec)
	}
	if err := ValidateName(name); err != nil {
		return ToolSpec{}, err
	}
	return ToolSpec{Tool: name, Version: version}, nil
}

var (
	nameRegex    = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	versionRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
)

// ValidateName rejects tool names that are unsafe as path components.
func ValidateName(name string) error {
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}
	return nil
}

// ValidateVersion rejects version strings that are unsafe as path components.
func ValidateVersion(version string) error {
	if !versionRegex.MatchString(version) || strings.Contains(version, "..") {
		return fmt.Errorf("invalid version %q", version)
	}
	return nil
}

// NormalizeVersion strips surrounding whitespace and a leading "v".
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') && v[1] >= '0' && v[1] <= '9' {
		return v[1:]
	}
	return v
}

func sameSubpath(subpath string, names ...string) []Binary {
	bins := make([]Binary, len(names))
	for i, n := range names {
		bins[i] = Binary{Name: n, Subpath: subpath}
	}
	return bins
}
