package adapter

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
)

// DefaultRustDistURL is the official Rust distribution server.
const DefaultRustDistURL = "https://static.rust-lang.org/dist"

// Rust installs the combined standalone rust-<version>-<triple> tarball.
type Rust struct {
	DistURL  string
	client   *http.Client
	platform *platform.Info

	mu        sync.Mutex
	manifests map[string]*rustManifest
}

// NewRust returns the rust adapter.
func NewRust(client *http.Client, info *platform.Info) *Rust {
	return &Rust{
		DistURL:   DefaultRustDistURL,
		client:    client,
		platform:  info,
		manifests: make(map[string]*rustManifest),
	}
}

type rustManifest struct {
	Pkg struct {
		Rust struct {
			Version string                `toml:"version"`
			Target  map[string]rustTarget `toml:"target"`
		} `toml:"rust"`
	} `toml:"pkg"`
}

type rustTarget struct {
	Available bool   `toml:"available"`
	URL       string `toml:"url"`
	Hash      string `toml:"hash"`
}

func (r *Rust) Name() string { return "rust" }

// manifest fetches channel-rust-<channel>.toml once per channel.
func (r *Rust) manifest(ctx context.Context, channel string) (*rustManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.manifests[channel]; ok {
		return m, nil
	}

	body, err := fetchBytes(ctx, r.client, fmt.Sprintf("%s/channel-rust-%s.toml", r.DistURL, channel))
	if err != nil {
		return nil, err
	}
	var m rustManifest
	if err := toml.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("parse rust manifest: %w", err)
	}
	r.manifests[channel] = &m
	return &m, nil
}

// ListRemote returns the current stable release. The channel manifest is
// the only listing upstream publishes.
func (r *Rust) ListRemote(ctx context.Context) ([]Version, error) {
	m, err := r.manifest(ctx, "stable")
	if err != nil {
		return nil, err
	}
	// "1.84.0 (9fc6b4312 2025-01-07)"
	fields := strings.Fields(m.Pkg.Rust.Version)
	if len(fields) == 0 {
		return nil, fmt.Errorf("rust manifest has no version")
	}
	return []Version{{Version: fields[0]}}, nil
}

func (r *Rust) target(ctx context.Context, version string) (rustTarget, error) {
	m, err := r.manifest(ctx, version)
	if err != nil {
		return rustTarget{}, err
	}
	return m.Pkg.Rust.Target[r.platform.Triple()], nil
}

func (r *Rust) DownloadURL(ctx context.Context, version string) (string, error) {
	t, err := r.target(ctx, version)
	if err != nil {
		return "", err
	}
	if t.URL != "" {
		return t.URL, nil
	}
	return fmt.Sprintf("%s/rust-%s-%s.tar.gz", r.DistURL, version, r.platform.Triple()), nil
}

func (r *Rust) Checksum(ctx context.Context, version string) (string, error) {
	t, err := r.target(ctx, version)
	if err != nil {
		return "", err
	}
	return t.Hash, nil
}

func (r *Rust) Binaries() []Binary {
	return []Binary{
		{Name: "rustc", Subpath: "rustc/bin"},
		{Name: "rustdoc", Subpath: "rustc/bin"},
		{Name: "rust-gdb", Subpath: "rustc/bin"},
		{Name: "rust-gdbgui", Subpath: "rustc/bin"},
		{Name: "rust-lldb", Subpath: "rustc/bin"},
		{Name: "cargo", Subpath: "cargo/bin"},
		{Name: "rustfmt", Subpath: "rustfmt-preview/bin"},
		{Name: "cargo-fmt", Subpath: "rustfmt-preview/bin"},
		{Name: "cargo-clippy", Subpath: "clippy-preview/bin"},
		{Name: "clippy-driver", Subpath: "clippy-preview/bin"},
		{Name: "rust-analyzer", Subpath: "rust-analyzer-preview/bin"},
	}
}

// PostInstall stitches the standalone components together the way the
// rustup installer would: rust-std is linked into rustc's sysroot, and the
// tool components get a lib link so they find librustc_driver.
func (r *Rust) PostInstall(ctx context.Context, installDir string) error {
	triple := r.platform.Triple()

	stdSrc := filepath.Join(installDir, "rust-std-"+triple, "lib", "rustlib", triple, "lib")
	stdDst := filepath.Join(installDir, "rustc", "lib", "rustlib", triple, "lib")
	if exists(stdSrc) && !exists(stdDst) {
		if err := os.MkdirAll(filepath.Dir(stdDst), 0o755); err != nil {
			return fmt.Errorf("create sysroot: %w", err)
		}
		if err := os.Symlink(stdSrc, stdDst); err != nil {
			return fmt.Errorf("link rust-std: %w", err)
		}
	}

	rustcLib := filepath.Join(installDir, "rustc", "lib")
	for _, component := range []string{"clippy-preview", "rustfmt-preview", "rust-analyzer-preview"} {
		componentDir := filepath.Join(installDir, component)
		libLink := filepath.Join(componentDir, "lib")
		if exists(rustcLib) && exists(componentDir) && !exists(libLink) {
			if err := os.Symlink(rustcLib, libLink); err != nil {
				return fmt.Errorf("link %s lib: %w", component, err)
			}
		}
	}
	return nil
}

// ResolveAlias handles "latest" and "stable".
func (r *Rust) ResolveAlias(alias string, listing []Version) (string, bool) {
	switch alias {
	case "latest", "stable":
		return latest(listing)
	default:
		return "", false
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
