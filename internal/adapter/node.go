package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
	"github.com/ZebulonRouseFrantzich/zvm/internal/verify"
)

// DefaultNodeDistURL is the official Node.js distribution root.
const DefaultNodeDistURL = "https://nodejs.org/dist"

// Node installs official Node.js binary tarballs.
type Node struct {
	DistURL  string
	client   *http.Client
	platform *platform.Info
}

// NewNode returns the node adapter.
func NewNode(client *http.Client, info *platform.Info) *Node {
	return &Node{DistURL: DefaultNodeDistURL, client: client, platform: info}
}

type nodeRelease struct {
	Version string      `json:"version"`
	LTS     interface{} `json:"lts"` // false, or the LTS codename
}

func (n *Node) Name() string { return "node" }

// ListRemote reads index.json.
func (n *Node) ListRemote(ctx context.Context) ([]Version, error) {
	var releases []nodeRelease
	if err := fetchJSON(ctx, n.client, n.DistURL+"/index.json", &releases); err != nil {
		return nil, err
	}

	versions := make([]Version, 0, len(releases))
	for _, r := range releases {
		v := Version{Version: NormalizeVersion(r.Version)}
		if codename, ok := r.LTS.(string); ok {
			v.LTS = codename
		}
		versions = append(versions, v)
	}
	SortVersions(versions)
	return versions, nil
}

func (n *Node) archiveName(version string) (string, error) {
	var arch string
	switch n.platform.Arch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "arm64"
	default:
		return "", fmt.Errorf("node: unsupported architecture %s", n.platform.Arch)
	}
	return fmt.Sprintf("node-v%s-%s-%s.tar.gz", NormalizeVersion(version), n.platform.OS, arch), nil
}

func (n *Node) DownloadURL(ctx context.Context, version string) (string, error) {
	name, err := n.archiveName(version)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v%s/%s", n.DistURL, NormalizeVersion(version), name), nil
}

// Checksum looks the archive up in SHASUMS256.txt. A listing without the
// archive is an error, not an unverified install.
func (n *Node) Checksum(ctx context.Context, version string) (string, error) {
	name, err := n.archiveName(version)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/v%s/SHASUMS256.txt", n.DistURL, NormalizeVersion(version))
	listing, err := fetchBytes(ctx, n.client, url)
	if err != nil {
		return "", err
	}
	// every node release lists every archive
	sum, ok := verify.FindChecksum(listing, name)
	if !ok {
		return "", &errs.ChecksumNotListedError{Listing: url, File: name}
	}
	return sum, nil
}

func (n *Node) Binaries() []Binary {
	return sameSubpath("bin", "node", "npm", "npx", "corepack")
}

func (n *Node) PostInstall(ctx context.Context, installDir string) error { return nil }

// ResolveAlias handles "latest", "lts" and "lts-<codename>".
func (n *Node) ResolveAlias(alias string, listing []Version) (string, bool) {
	switch {
	case alias == "latest" || alias == "current":
		return latest(listing)
	case alias == "lts":
		return newestLTS(listing, "")
	case strings.HasPrefix(alias, "lts-"), strings.HasPrefix(alias, "lts/"):
		return newestLTS(listing, alias[4:])
	default:
		return "", false
	}
}
