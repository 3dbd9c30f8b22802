package switcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/testutil"
)

func install(t *testing.T, cfg *config.Config, tool, version string, bins ...string) {
	t.Helper()
	for _, b := range bins {
		testutil.WriteFile(t, cfg.ToolchainDir(tool, version), filepath.Join("bin", b), []byte(version))
	}
	if len(bins) == 0 {
		if err := os.MkdirAll(cfg.ToolchainDir(tool, version), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func nodeTool() *testutil.Tool {
	return &testutil.Tool{
		ToolName: "node",
		Bins: []adapter.Binary{
			{Name: "node", Subpath: "bin"},
			{Name: "npm", Subpath: "bin"},
			{Name: "corepack", Subpath: "bin"},
		},
	}
}

func TestActivate(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	s := New(cfg)
	install(t, cfg, "node", "20.11.0", "node", "npm")

	if err := s.Activate(nodeTool(), "20.11.0"); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	target, err := os.Readlink(cfg.CurrentLink("node"))
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("..", "toolchains", "node", "20.11.0"); target != want {
		t.Errorf("current/node -> %q, want %q", target, want)
	}

	target, err = os.Readlink(filepath.Join(cfg.BinDir(), "node"))
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("..", "current", "node", "bin", "node"); target != want {
		t.Errorf("bin/node -> %q, want %q", target, want)
	}

	data, err := os.ReadFile(filepath.Join(cfg.BinDir(), "npm"))
	if err != nil || string(data) != "20.11.0" {
		t.Errorf("bin/npm resolves to %q, %v", data, err)
	}

	if _, err := os.Lstat(filepath.Join(cfg.BinDir(), "corepack")); !os.IsNotExist(err) {
		t.Error("missing binary was linked")
	}

	if v, err := s.Current("node"); err != nil || v != "20.11.0" {
		t.Errorf("Current() = %q, %v", v, err)
	}
}

func TestActivate_Switch(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	s := New(cfg)
	install(t, cfg, "node", "18.19.0", "node", "npm", "corepack")
	install(t, cfg, "node", "20.11.0", "node", "npm")

	if err := s.Activate(nodeTool(), "18.19.0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Activate(nodeTool(), "20.11.0"); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(filepath.Join(cfg.BinDir(), "node"))
	if string(data) != "20.11.0" {
		t.Errorf("bin/node runs %q after switch", data)
	}
	if _, err := os.Lstat(filepath.Join(cfg.BinDir(), "corepack")); !os.IsNotExist(err) {
		t.Error("corepack link from the previous version was left dangling")
	}

	leftovers, _ := filepath.Glob(filepath.Join(cfg.CurrentDir(), ".*.tmp"))
	binLeftovers, _ := filepath.Glob(filepath.Join(cfg.BinDir(), ".*.tmp"))
	if len(leftovers)+len(binLeftovers) != 0 {
		t.Errorf("temp links left behind: %v %v", leftovers, binLeftovers)
	}
}

func TestActivate_NotInstalled(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	s := New(cfg)
	install(t, cfg, "node", "18.19.0", "node")

	if err := s.Activate(nodeTool(), "18.19.0"); err != nil {
		t.Fatal(err)
	}

	err := s.Activate(nodeTool(), "99.0.0")
	if !errs.Is(err, errs.KindVersionNotInstalled) {
		t.Fatalf("Activate(99.0.0) error = %v, want version-not-installed", err)
	}

	if v, _ := s.Current("node"); v != "18.19.0" {
		t.Errorf("Current() = %q after failed activation, want 18.19.0", v)
	}
}

func TestActivate_SharedBinaryName(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	s := New(cfg)
	install(t, cfg, "a", "1.0.0", "tool")
	install(t, cfg, "b", "1.0.0")

	toolA := &testutil.Tool{ToolName: "a", Bins: []adapter.Binary{{Name: "tool", Subpath: "bin"}}}
	toolB := &testutil.Tool{ToolName: "b", Bins: []adapter.Binary{{Name: "tool", Subpath: "bin"}}}

	if err := s.Activate(toolA, "1.0.0"); err != nil {
		t.Fatal(err)
	}
	// b lacks the binary, so a's link must survive
	if err := s.Activate(toolB, "1.0.0"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.ReadFile(filepath.Join(cfg.BinDir(), "tool")); err != nil {
		t.Errorf("a's link was removed: %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	s := New(cfg)
	install(t, cfg, "node", "20.11.0", "node", "npm")
	install(t, cfg, "go", "1.22.1", "go")

	goTool := &testutil.Tool{ToolName: "go", Bins: []adapter.Binary{{Name: "go", Subpath: "bin"}}}
	if err := s.Activate(nodeTool(), "20.11.0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Activate(goTool, "1.22.1"); err != nil {
		t.Fatal(err)
	}

	if err := s.Deactivate("node"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	for _, name := range []string{"node", "npm"} {
		if _, err := os.Lstat(filepath.Join(cfg.BinDir(), name)); !os.IsNotExist(err) {
			t.Errorf("bin/%s still present", name)
		}
	}
	if v, _ := s.Current("node"); v != "" {
		t.Errorf("Current(node) = %q after Deactivate", v)
	}
	if v, _ := s.Current("go"); v != "1.22.1" {
		t.Errorf("Deactivate(node) disturbed go: %q", v)
	}

	if err := s.Deactivate("node"); err != nil {
		t.Errorf("Deactivate() twice = %v", err)
	}
}

func TestActivate_ConcurrentReaders(t *testing.T) {
	cfg := testutil.SetupTestEnv(t)
	s := New(cfg)
	versions := []string{"18.19.0", "20.11.0"}
	for _, v := range versions {
		install(t, cfg, "node", v, "node")
	}
	if err := s.Activate(nodeTool(), versions[0]); err != nil {
		t.Fatal(err)
	}

	var (
		wg       sync.WaitGroup
		stop     atomic.Bool
		failures atomic.Int64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			data, err := os.ReadFile(filepath.Join(cfg.BinDir(), "node"))
			if err != nil || (string(data) != versions[0] && string(data) != versions[1]) {
				failures.Add(1)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if err := s.Activate(nodeTool(), versions[i%2]); err != nil {
			t.Fatal(err)
		}
	}
	stop.Store(true)
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Errorf("reader observed %d missing or invalid links", n)
	}
}
