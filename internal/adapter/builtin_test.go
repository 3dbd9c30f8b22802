package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/zvm/internal/download"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
)

func serve(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.RequestURI()]
		if !ok {
			body, ok = routes[r.URL.Path]
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNode(t *testing.T) {
	srv := serve(t, map[string]string{
		"/index.json": `[
			{"version":"v21.6.1","lts":false},
			{"version":"v20.11.0","lts":"Iron"},
			{"version":"v18.19.0","lts":"Hydrogen"}
		]`,
		"/v20.11.0/SHASUMS256.txt": "aaa  node-v20.11.0-darwin-arm64.tar.gz\n" +
			"bbb  node-v20.11.0-linux-x64.tar.gz\n",
		"/v18.19.0/SHASUMS256.txt": "ccc  node-v18.19.0-darwin-arm64.tar.gz\n",
	})

	node := NewNode(srv.Client(), platform.New("linux", "amd64"))
	node.DistURL = srv.URL
	ctx := context.Background()

	listing, err := node.ListRemote(ctx)
	if err != nil {
		t.Fatalf("ListRemote() error = %v", err)
	}
	if len(listing) != 3 || listing[0].Version != "21.6.1" || listing[1].LTS != "Iron" || listing[0].LTS != "" {
		t.Errorf("ListRemote() = %+v", listing)
	}

	url, err := node.DownloadURL(ctx, "20.11.0")
	if err != nil {
		t.Fatal(err)
	}
	if want := srv.URL + "/v20.11.0/node-v20.11.0-linux-x64.tar.gz"; url != want {
		t.Errorf("DownloadURL() = %q, want %q", url, want)
	}

	sum, err := node.Checksum(ctx, "20.11.0")
	if err != nil || sum != "bbb" {
		t.Errorf("Checksum() = %q, %v, want bbb", sum, err)
	}

	_, err = node.Checksum(ctx, "99.0.0")
	if !errs.Is(err, errs.KindUpstreamNotFound) {
		t.Errorf("Checksum(missing) error = %v, want upstream-not-found", err)
	}

	// the listing exists but lacks this platform's archive
	sum, err = node.Checksum(ctx, "18.19.0")
	var notListed *errs.ChecksumNotListedError
	if sum != "" || !errors.As(err, &notListed) || notListed.File != "node-v18.19.0-linux-x64.tar.gz" {
		t.Errorf("Checksum(unlisted) = %q, %v, want checksum-not-listed", sum, err)
	}

	var names []string
	for _, b := range node.Binaries() {
		names = append(names, b.Name)
	}
	if strings.Join(names, ",") != "node,npm,npx,corepack" {
		t.Errorf("Binaries() = %v", names)
	}
}

func TestNode_ServerErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	node := NewNode(srv.Client(), platform.New("linux", "amd64"))
	node.DistURL = srv.URL

	_, err := node.ListRemote(context.Background())
	if !errs.Is(err, errs.KindNetwork) {
		t.Errorf("ListRemote() error = %v, want network", err)
	}
}

func TestNode_StalledServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("["))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	node := NewNode(download.NewHTTPClient(time.Second, 200*time.Millisecond), platform.New("linux", "amd64"))
	node.DistURL = srv.URL

	tests := []struct {
		name string
		call func(ctx context.Context) error
	}{
		{"listing", func(ctx context.Context) error { _, err := node.ListRemote(ctx); return err }},
		{"checksum", func(ctx context.Context) error { _, err := node.Checksum(ctx, "20.11.0"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := tt.call(context.Background())
			if !errs.Is(err, errs.KindNetwork) {
				t.Errorf("error = %v, want network", err)
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Errorf("returned after %v, want the 200ms transfer bound", elapsed)
			}
		})
	}
}

func TestGo(t *testing.T) {
	srv := serve(t, map[string]string{
		"/?mode=json&include=all": `[
			{"version":"go1.22.1","stable":true,"files":[
				{"filename":"go1.22.1.linux-arm64.tar.gz","os":"linux","arch":"arm64","sha256":"c0ffee","kind":"archive"},
				{"filename":"go1.22.1.src.tar.gz","os":"","arch":"","sha256":"5ource","kind":"source"}
			]},
			{"version":"go1.23rc1","stable":false,"files":[]},
			{"version":"go1.21.8","stable":true,"files":[]}
		]`,
	})

	g := NewGo(srv.Client(), platform.New("linux", "arm64"))
	g.DownloadBase = srv.URL
	ctx := context.Background()

	listing, err := g.ListRemote(ctx)
	if err != nil {
		t.Fatalf("ListRemote() error = %v", err)
	}
	if len(listing) != 2 || listing[0].Version != "1.22.1" || listing[1].Version != "1.21.8" {
		t.Errorf("ListRemote() = %+v", listing)
	}

	url, _ := g.DownloadURL(ctx, "1.22.1")
	if want := srv.URL + "/go1.22.1.linux-arm64.tar.gz"; url != want {
		t.Errorf("DownloadURL() = %q, want %q", url, want)
	}

	if sum, err := g.Checksum(ctx, "1.22.1"); err != nil || sum != "c0ffee" {
		t.Errorf("Checksum() = %q, %v", sum, err)
	}
	if sum, err := g.Checksum(ctx, "1.21.8"); err != nil || sum != "" {
		t.Errorf("Checksum(no files) = %q, %v, want empty", sum, err)
	}

	calls := 0
	got, err := Resolve(ctx, g, "1.x", staticList(listing, &calls))
	if err != nil || got != "1.22.1" {
		t.Errorf("Resolve(1.x) = %q, %v", got, err)
	}
}

func TestJava(t *testing.T) {
	srv := serve(t, map[string]string{
		"/info/available_releases": `{"available_lts_releases":[17,21],"available_releases":[17,21,22]}`,
		"/assets/latest/21/hotspot": `[{"binary":{"package":{
			"name":"OpenJDK21U-jdk_aarch64_mac_hotspot_21.0.2_13.tar.gz",
			"link":"https://example.invalid/jdk21.tar.gz",
			"checksum":"feed"}}}]`,
		"/assets/latest/22/hotspot": `[]`,
	})

	j := NewJava(srv.Client(), platform.New("darwin", "arm64"))
	j.APIURL = srv.URL
	ctx := context.Background()

	listing, err := j.ListRemote(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 3 || listing[0].Version != "22" || listing[1].LTS == "" {
		t.Errorf("ListRemote() = %+v", listing)
	}

	calls := 0
	if got, _ := Resolve(ctx, j, "lts", staticList(listing, &calls)); got != "21" {
		t.Errorf("Resolve(lts) = %q, want 21", got)
	}

	url, err := j.DownloadURL(ctx, "21")
	if err != nil || url != "https://example.invalid/jdk21.tar.gz" {
		t.Errorf("DownloadURL() = %q, %v", url, err)
	}
	if sum, _ := j.Checksum(ctx, "21"); sum != "feed" {
		t.Errorf("Checksum() = %q", sum)
	}

	if _, err := j.DownloadURL(ctx, "22"); !errs.Is(err, errs.KindVersionNotFound) {
		t.Errorf("DownloadURL(22) error = %v, want version-not-found", err)
	}

	bins := j.Binaries()
	if len(bins) != 30 || bins[0].Subpath != "Contents/Home/bin" {
		t.Errorf("Binaries() = %d entries, subpath %q", len(bins), bins[0].Subpath)
	}

	linux := NewJava(nil, platform.New("linux", "amd64"))
	if linux.Binaries()[0].Subpath != "bin" {
		t.Error("linux java binaries should live under bin")
	}
}

func TestRust(t *testing.T) {
	manifest := `
[pkg.rust]
version = "1.84.0 (9fc6b4312 2025-01-07)"

[pkg.rust.target.x86_64-unknown-linux-gnu]
available = true
url = "https://example.invalid/rust-1.84.0-x86_64-unknown-linux-gnu.tar.gz"
hash = "abcdef"
`
	srv := serve(t, map[string]string{
		"/channel-rust-stable.toml": manifest,
		"/channel-rust-1.84.0.toml": manifest,
		"/channel-rust-1.83.0.toml": "[pkg.rust]\nversion = \"1.83.0 (x 2024-11-26)\"\n",
	})

	r := NewRust(srv.Client(), platform.New("linux", "amd64"))
	r.DistURL = srv.URL
	ctx := context.Background()

	listing, err := r.ListRemote(ctx)
	if err != nil || len(listing) != 1 || listing[0].Version != "1.84.0" {
		t.Fatalf("ListRemote() = %+v, %v", listing, err)
	}

	calls := 0
	if got, _ := Resolve(ctx, r, "stable", staticList(listing, &calls)); got != "1.84.0" {
		t.Errorf("Resolve(stable) = %q", got)
	}

	url, _ := r.DownloadURL(ctx, "1.84.0")
	if url != "https://example.invalid/rust-1.84.0-x86_64-unknown-linux-gnu.tar.gz" {
		t.Errorf("DownloadURL() = %q", url)
	}
	if sum, _ := r.Checksum(ctx, "1.84.0"); sum != "abcdef" {
		t.Errorf("Checksum() = %q", sum)
	}

	url, _ = r.DownloadURL(ctx, "1.83.0")
	if want := srv.URL + "/rust-1.83.0-x86_64-unknown-linux-gnu.tar.gz"; url != want {
		t.Errorf("DownloadURL(fallback) = %q, want %q", url, want)
	}
}

func TestRust_PostInstall(t *testing.T) {
	r := NewRust(nil, platform.New("linux", "amd64"))
	triple := "x86_64-unknown-linux-gnu"
	dir := t.TempDir()

	mustMkdir(t, filepath.Join(dir, "rust-std-"+triple, "lib", "rustlib", triple, "lib"))
	mustMkdir(t, filepath.Join(dir, "rustc", "lib"))
	mustMkdir(t, filepath.Join(dir, "clippy-preview", "bin"))
	mustMkdir(t, filepath.Join(dir, "rustfmt-preview", "bin"))

	if err := r.PostInstall(context.Background(), dir); err != nil {
		t.Fatalf("PostInstall() error = %v", err)
	}

	stdLink := filepath.Join(dir, "rustc", "lib", "rustlib", triple, "lib")
	if fi, err := os.Lstat(stdLink); err != nil || fi.Mode()&os.ModeSymlink == 0 {
		t.Errorf("rust-std not linked into sysroot: %v", err)
	}
	for _, c := range []string{"clippy-preview", "rustfmt-preview"} {
		if _, err := os.Lstat(filepath.Join(dir, c, "lib")); err != nil {
			t.Errorf("%s/lib not linked: %v", c, err)
		}
	}
	if _, err := os.Lstat(filepath.Join(dir, "rust-analyzer-preview", "lib")); !os.IsNotExist(err) {
		t.Errorf("absent component got a lib link")
	}

	// second run is a no-op
	if err := r.PostInstall(context.Background(), dir); err != nil {
		t.Errorf("PostInstall() rerun error = %v", err)
	}
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}
