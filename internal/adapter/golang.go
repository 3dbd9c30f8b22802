package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
)

// DefaultGoDownloadURL is the official Go download page.
const DefaultGoDownloadURL = "https://go.dev/dl"

// Go installs official Go release archives.
type Go struct {
	DownloadBase string
	client       *http.Client
	platform     *platform.Info

	mu    sync.Mutex
	index []goRelease
}

// NewGo returns the go adapter.
func NewGo(client *http.Client, info *platform.Info) *Go {
	return &Go{DownloadBase: DefaultGoDownloadURL, client: client, platform: info}
}

type goRelease struct {
	Version string   `json:"version"`
	Stable  bool     `json:"stable"`
	Files   []goFile `json:"files"`
}

type goFile struct {
	Filename string `json:"filename"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	SHA256   string `json:"sha256"`
	Kind     string `json:"kind"`
}

func (g *Go) Name() string { return "go" }

// releases fetches the full release index once per process.
func (g *Go) releases(ctx context.Context) ([]goRelease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.index != nil {
		return g.index, nil
	}

	var releases []goRelease
	if err := fetchJSON(ctx, g.client, g.DownloadBase+"/?mode=json&include=all", &releases); err != nil {
		return nil, err
	}
	g.index = releases
	return releases, nil
}

// ListRemote returns stable releases only.
func (g *Go) ListRemote(ctx context.Context) ([]Version, error) {
	releases, err := g.releases(ctx)
	if err != nil {
		return nil, err
	}

	var versions []Version
	for _, r := range releases {
		if r.Stable {
			versions = append(versions, Version{Version: strings.TrimPrefix(r.Version, "go")})
		}
	}
	SortVersions(versions)
	return versions, nil
}

func (g *Go) archiveName(version string) string {
	return fmt.Sprintf("go%s.%s-%s.tar.gz", strings.TrimPrefix(version, "go"), g.platform.OS, g.platform.Arch)
}

func (g *Go) DownloadURL(ctx context.Context, version string) (string, error) {
	return g.DownloadBase + "/" + g.archiveName(version), nil
}

// Checksum reads the archive digest from the release index.
func (g *Go) Checksum(ctx context.Context, version string) (string, error) {
	releases, err := g.releases(ctx)
	if err != nil {
		return "", err
	}

	want := "go" + strings.TrimPrefix(version, "go")
	for _, r := range releases {
		if r.Version != want {
			continue
		}
		for _, f := range r.Files {
			if f.OS == g.platform.OS && f.Arch == g.platform.Arch && f.Kind == "archive" {
				return f.SHA256, nil
			}
		}
	}
	return "", nil
}

func (g *Go) Binaries() []Binary {
	return sameSubpath("bin", "go", "gofmt")
}

func (g *Go) PostInstall(ctx context.Context, installDir string) error { return nil }

// ResolveAlias handles "latest" and "1.x"-style wildcards.
func (g *Go) ResolveAlias(alias string, listing []Version) (string, bool) {
	if alias == "latest" || alias == "stable" {
		return latest(listing)
	}
	if prefix, ok := strings.CutSuffix(alias, ".x"); ok {
		for _, v := range listing {
			if strings.HasPrefix(v.Version, prefix+".") {
				return v.Version, true
			}
		}
	}
	return "", false
}
