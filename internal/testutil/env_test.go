package testutil_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)

	root := os.Getenv(config.EnvHome)
	if root == "" || root != cfg.Root {
		t.Fatalf("%s = %q, cfg.Root = %q", config.EnvHome, root, cfg.Root)
	}
	if !filepath.IsAbs(root) {
		t.Errorf("root %s is not absolute", root)
	}

	for _, dir := range []string{cfg.ToolchainsDir(), cfg.CurrentDir(), cfg.BinDir(), cfg.LocksDir(), cfg.RemoteVersionsDir()} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("directory %s does not exist", dir)
		}
	}

	resolved, err := config.ResolveRoot()
	if err != nil || resolved != root {
		t.Errorf("ResolveRoot() = %q, %v, want %q", resolved, err, root)
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	cfg1 := testutil.SetupTestEnv(t)

	t.Run("subtest", func(t *testing.T) {
		cfg2 := testutil.SetupTestEnv(t)
		if cfg1.Root == cfg2.Root {
			t.Error("expected different roots for different test contexts")
		}
	})
}

func TestTarGz(t *testing.T) {
	data := testutil.TarGz(t,
		testutil.Dir("a/"),
		testutil.Exec("a/run", "x"),
		testutil.Symlink("a/link", "run"),
	)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) != 3 || names[1] != "a/run" {
		t.Errorf("entries = %v", names)
	}
}

func TestNodeLikeTool(t *testing.T) {
	tool, srv := testutil.NodeLikeTool(t, "demo", "1.2.3")

	url, _ := tool.DownloadURL(context.Background(), "1.2.3")
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	sum, _ := tool.Checksum(context.Background(), "1.2.3")
	if testutil.SHA256Hex(body) != sum {
		t.Error("published checksum does not match served archive")
	}
	if srv.Hits() != 1 {
		t.Errorf("Hits() = %d, want 1", srv.Hits())
	}
}
