// Package platform detects the host operating system and architecture that
// toolchain archives are selected for, and exposes the result to Lua plugin
// adapters as a read-only table.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux (musl)
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin"
	Arch     string // "amd64", "arm64" (normalized)
	ArchRaw  string // original GOARCH
	Platform string // distro ID (Linux only, e.g., "ubuntu")
	Family   string // canonical family (Linux only)
	Version  string // distro version (Linux only)
}

// New returns an Info for the given OS and normalized arch, without distro
// details. Adapters and tests use it to target a platform explicitly.
func New(goos, arch string) *Info {
	return &Info{OS: goos, Arch: arch, ArchRaw: arch}
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool {
	return i.Arch == "amd64"
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Arch == "arm64"
}

// IsMusl reports whether the host libc is musl. Upstream glibc builds do
// not run there.
func (i *Info) IsMusl() bool {
	return i.IsLinux() && i.Family == FamilyAlpine
}

// String returns "<os>-<arch>".
func (i *Info) String() string {
	return i.OS + "-" + i.Arch
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Triple returns the LLVM-style target triple, e.g. "aarch64-apple-darwin".
func (i *Info) Triple() string {
	cpu := "x86_64"
	if i.IsARM64() {
		cpu = "aarch64"
	}
	switch {
	case i.IsMacOS():
		return cpu + "-apple-darwin"
	case i.IsMusl():
		return cpu + "-unknown-linux-musl"
	default:
		return cpu + "-unknown-linux-gnu"
	}
}
