// Package testutil provides utilities for testing zvm in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
)

// SetupTestEnv points ZVM_HOME and HOME at a fresh temp directory and
// returns a default Config for that root with its layout created. Tests
// never touch the user's real ~/.zvm.
func SetupTestEnv(t *testing.T) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "zvm")

	t.Setenv(config.EnvHome, root)
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))
	t.Setenv(config.EnvDebug, "")

	if err := os.MkdirAll(filepath.Join(tmpDir, "home"), 0o750); err != nil {
		t.Fatalf("failed to create test home: %v", err)
	}

	cfg := config.Default(root)
	if err := cfg.EnsureLayout(); err != nil {
		t.Fatalf("failed to create test layout: %v", err)
	}
	return cfg
}
