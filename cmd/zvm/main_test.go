package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/testutil"
)

// runCLI runs zvm with args and returns exit code, stdout and stderr.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// fakeInstall lays out toolchains/<tool>/<version>/bin/<tool> by hand.
func fakeInstall(t *testing.T, cfg *config.Config, tool, version string) {
	t.Helper()
	testutil.WriteFile(t, filepath.Join(cfg.ToolchainDir(tool, version), "bin"), tool, []byte("#!/bin/sh\n"))
}

func TestUseListCurrentUninstall(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	fakeInstall(t, cfg, "node", "20.11.0")
	fakeInstall(t, cfg, "node", "18.19.0")

	code, out, errOut := runCLI(t, "use", "node@20")
	if code != 0 {
		t.Fatalf("use exit = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "Now using node 20.11.0") {
		t.Errorf("use output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(cfg.BinDir(), "node")); err != nil {
		t.Errorf("bin/node not usable: %v", err)
	}

	code, out, _ = runCLI(t, "list", "node")
	if code != 0 {
		t.Fatalf("list exit = %d", code)
	}
	want := "node\n  * 20.11.0\n    18.19.0\n"
	if out != want {
		t.Errorf("list output = %q, want %q", out, want)
	}

	code, out, _ = runCLI(t, "current", "node")
	if code != 0 || strings.TrimSpace(out) != "20.11.0" {
		t.Errorf("current = %d %q", code, out)
	}

	code, out, errOut = runCLI(t, "uninstall", "node@20.11.0")
	if code != 0 {
		t.Fatalf("uninstall exit = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "Uninstalled node 20.11.0") {
		t.Errorf("uninstall output = %q", out)
	}
	if _, err := os.Lstat(filepath.Join(cfg.BinDir(), "node")); !os.IsNotExist(err) {
		t.Error("bin/node left dangling")
	}

	code, _, errOut = runCLI(t, "current", "node")
	if code != 1 || !strings.Contains(errOut, "no active version") {
		t.Errorf("current after uninstall = %d %q", code, errOut)
	}
}

func TestUse_NotInstalledPrintsHint(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	// a fresh listing in the cache keeps this offline
	testutil.WriteFile(t, cfg.RemoteVersionsDir(), "go.json", []byte(
		`{"fetched_at":"2099-01-01T00:00:00Z","listing":[{"version":"1.22.1"}]}`))

	code, _, errOut := runCLI(t, "use", "go@1.22.1")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.HasPrefix(errOut, "Error: ") || !strings.Contains(errOut, "Hint: install it first") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestResolve(t *testing.T) {
	testutil.SetupTestEnv(t)
	proj := filepath.Join(t.TempDir(), "proj")
	testutil.WriteFile(t, proj, ".tool-versions", []byte("go 1.23.5\nnode 20.11.0\n"))
	sub := filepath.Join(proj, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "resolve", "--verbose", sub)
	if code != 0 {
		t.Fatalf("resolve exit = %d, stderr = %s", code, errOut)
	}
	want := fmt.Sprintf("# %s (combined)\ngo 1.23.5\nnode 20.11.0\n", filepath.Join(proj, ".tool-versions"))
	if out != want {
		t.Errorf("resolve output = %q, want %q", out, want)
	}
}

func TestAuto_ReportsMissing(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	fakeInstall(t, cfg, "go", "1.23.5")
	proj := t.TempDir()
	testutil.WriteFile(t, proj, ".tool-versions", []byte("go 1.23.5\nnode 20.11.0\n"))

	code, out, errOut := runCLI(t, "auto", proj)
	if code != 0 {
		t.Fatalf("auto exit = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "Now using go 1.23.5") {
		t.Errorf("auto output = %q", out)
	}
	if !strings.Contains(out, "node 20.11.0 is pinned but not installed") {
		t.Errorf("auto output = %q, want missing node", out)
	}
}

func TestConfigSet(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)

	code, _, errOut := runCLI(t, "config", "set", "--cache-ttl", "600", "--retries", "5")
	if code != 0 {
		t.Fatalf("config set exit = %d, stderr = %s", code, errOut)
	}
	loaded, err := config.Load(cfg.Root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.CacheTTL.Seconds() != 600 {
		t.Errorf("CacheTTL = %v, want 600s", loaded.CacheTTL)
	}
	if loaded.DownloadRetries != 5 {
		t.Errorf("DownloadRetries = %d, want 5", loaded.DownloadRetries)
	}

	code, out, _ := runCLI(t, "config")
	if code != 0 || !strings.Contains(out, "cache_ttl_secs        600") || !strings.Contains(out, "download_retries      5") {
		t.Errorf("config output = %d %q", code, out)
	}

	if code, _, _ := runCLI(t, "config", "set"); code != 1 {
		t.Errorf("config set without flags exit = %d, want 1", code)
	}
}

func TestHintFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"disk space", fmt.Errorf("install: %w", &errs.DiskSpaceError{Path: "/x", Required: 500 << 20, Available: 300 << 20}), "500 MiB needed, 300 MiB available"},
		{"lock", &errs.LockContentionError{}, "another zvm process"},
		{"checksum", &errs.ChecksumMismatchError{}, "corrupt"},
		{"home", errs.ErrHomeDirectoryUnresolvable, "ZVM_HOME"},
		{"cancelled", fmt.Errorf("fetch: %w", context.Canceled), "interrupted"},
		{"unclassified", fmt.Errorf("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hintFor(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("hintFor() = %q, want none", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("hintFor() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
