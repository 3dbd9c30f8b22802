// Package switcher maintains the activation links under current/ and bin/.
//
// current/<tool> points at ../toolchains/<tool>/<version>, and every
// exposed binary bin/<name> points through it at
// ../current/<tool>/<subpath>/<name>. Links are replaced by creating a
// temporary symlink next to the old one and renaming it into place, so a
// concurrent reader sees either the old or the new target.
package switcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

// Switcher activates installed toolchains.
type Switcher struct {
	cfg    *config.Config
	logger config.Logger
}

// New returns a switcher for cfg's layout.
func New(cfg *config.Config) *Switcher {
	return &Switcher{cfg: cfg, logger: config.OrNop(cfg.Logger)}
}

// Activate points current/<tool> at version and links the tool's binaries
// into bin/. Binaries the installed toolchain lacks are not linked. If the
// version is not installed nothing is changed.
func (s *Switcher) Activate(t adapter.Tool, version string) error {
	tool := t.Name()
	dir := s.cfg.ToolchainDir(tool, version)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return &errs.VersionNotInstalledError{Tool: tool, Version: version}
	}

	for _, d := range []string{s.cfg.CurrentDir(), s.cfg.BinDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}

	target := filepath.Join("..", "toolchains", tool, version)
	if err := replaceSymlink(s.cfg.CurrentDir(), tool, target); err != nil {
		return fmt.Errorf("activate %s@%s: %w", tool, version, err)
	}

	for _, b := range t.Binaries() {
		linkPath := filepath.Join(s.cfg.BinDir(), b.Name)
		if _, err := os.Stat(filepath.Join(dir, b.Subpath, b.Name)); err != nil {
			// don't leave a link that would dangle
			if owned(linkPath, tool) {
				if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove stale link %s: %w", b.Name, err)
				}
			}
			s.logger.Debug("Binary not present in toolchain", "tool", tool, "version", version, "binary", b.Name)
			continue
		}

		binTarget := filepath.Join("..", "current", tool, b.Subpath, b.Name)
		if err := replaceSymlink(s.cfg.BinDir(), b.Name, binTarget); err != nil {
			return fmt.Errorf("link %s: %w", b.Name, err)
		}
	}

	s.logger.Info("Activated toolchain", "tool", tool, "version", version)
	return nil
}

// Deactivate removes the tool's bin links and then current/<tool>.
func (s *Switcher) Deactivate(tool string) error {
	entries, err := os.ReadDir(s.cfg.BinDir())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read bin dir: %w", err)
	}
	for _, e := range entries {
		linkPath := filepath.Join(s.cfg.BinDir(), e.Name())
		if !owned(linkPath, tool) {
			continue
		}
		if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}

	if err := os.Remove(s.cfg.CurrentLink(tool)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove current link: %w", err)
	}
	s.logger.Debug("Deactivated toolchain", "tool", tool)
	return nil
}

// Current returns the active version of tool, or "" when none is active.
func (s *Switcher) Current(tool string) (string, error) {
	target, err := os.Readlink(s.cfg.CurrentLink(tool))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read current link: %w", err)
	}
	return filepath.Base(target), nil
}

// owned reports whether linkPath is a symlink into current/<tool>/.
func owned(linkPath, tool string) bool {
	target, err := os.Readlink(linkPath)
	if err != nil {
		return false
	}
	prefix := filepath.Join("..", "current", tool) + string(filepath.Separator)
	return strings.HasPrefix(target, prefix)
}

// replaceSymlink atomically points dir/name at target.
func replaceSymlink(dir, name, target string) error {
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", name, uuid.NewString()[:8]))
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace symlink: %w", err)
	}
	return nil
}
