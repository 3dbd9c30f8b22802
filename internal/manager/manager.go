// Package manager is the entry point used by the CLI. It ties the adapter
// registry, the remote version cache, the installer and the switcher to one
// root directory.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
	"github.com/ZebulonRouseFrantzich/zvm/internal/autoswitch"
	"github.com/ZebulonRouseFrantzich/zvm/internal/cache"
	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/download"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/install"
	"github.com/ZebulonRouseFrantzich/zvm/internal/lock"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
	"github.com/ZebulonRouseFrantzich/zvm/internal/resolver"
	"github.com/ZebulonRouseFrantzich/zvm/internal/switcher"
)

// DefaultParallelism bounds InstallAll.
const DefaultParallelism = 4

// Manager runs toolchain operations against one root.
type Manager struct {
	cfg        *config.Config
	registry   *adapter.Registry
	cache      *cache.Cache
	downloader *download.Downloader
	locker     *lock.Locker
	installer  *install.Installer
	switcher   *switcher.Switcher
	resolver   *resolver.Resolver
	logger     config.Logger

	parallelism int
}

type options struct {
	downloader   *download.Downloader
	installOpts  []install.Option
	parallelism  int
	platformInfo *platform.Info
}

// Option configures a Manager.
type Option func(*options)

// WithDownloader replaces the downloader built from the config.
func WithDownloader(d *download.Downloader) Option {
	return func(o *options) { o.downloader = d }
}

// WithInstallOptions passes options through to the installer.
func WithInstallOptions(opts ...install.Option) Option {
	return func(o *options) { o.installOpts = append(o.installOpts, opts...) }
}

// WithParallelism bounds the number of concurrent installs in InstallAll.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithPlatform skips host detection in Open.
func WithPlatform(info *platform.Info) Option {
	return func(o *options) { o.platformInfo = info }
}

// New returns a manager for the tools in registry.
func New(cfg *config.Config, registry *adapter.Registry, opts ...Option) *Manager {
	o := &options{parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(o)
	}
	return newManager(cfg, registry, o)
}

func newManager(cfg *config.Config, registry *adapter.Registry, o *options) *Manager {
	logger := config.OrNop(cfg.Logger)
	dl := o.downloader
	if dl == nil {
		dl = download.New(cfg)
	}
	locker := lock.NewLocker(cfg.LocksDir(), logger)
	sw := switcher.New(cfg)

	installOpts := append([]install.Option{install.WithLocker(locker)}, o.installOpts...)
	parallelism := o.parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	return &Manager{
		cfg:         cfg,
		registry:    registry,
		cache:       cache.New(cfg.RemoteVersionsDir(), cfg.Clock, logger),
		downloader:  dl,
		locker:      locker,
		installer:   install.New(cfg, dl, sw, installOpts...),
		switcher:    sw,
		resolver:    resolver.New(registry.Has),
		logger:      logger,
		parallelism: parallelism,
	}
}

// Open prepares the root layout, detects the host platform and registers
// the built-in adapters plus every plugin under <root>/plugins.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Manager, error) {
	o := &options{parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.EnsureLayout(); err != nil {
		return nil, err
	}

	info := o.platformInfo
	if info == nil {
		var err error
		info, err = platform.NewDetector().Detect(ctx)
		if err != nil {
			return nil, err
		}
	}

	if o.downloader == nil {
		o.downloader = download.New(cfg)
	}
	client := o.downloader.Client()

	registry := adapter.NewRegistry(adapter.Builtins(client, info)...)
	registerPlugins(registry, cfg, info, client)

	return newManager(cfg, registry, o), nil
}

func registerPlugins(registry *adapter.Registry, cfg *config.Config, info *platform.Info, client *http.Client) {
	logger := config.OrNop(cfg.Logger)
	for _, p := range adapter.LoadPlugins(cfg.PluginsDir(), info, client, logger) {
		if err := registry.Register(p); err != nil {
			logger.Warn("Skipping plugin", "path", p.Path(), "error", err)
			p.Close()
		}
	}
}

// Close releases plugin interpreters.
func (m *Manager) Close() {
	m.registry.Close()
}

// Config returns the manager's configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

// Tools returns the supported tool names, sorted.
func (m *Manager) Tools() []string { return m.registry.Names() }

// Canonicalize turns spec into an exact version. Exact versions need no
// network access; aliases and prefixes are matched against the remote
// listing through the cache.
func (m *Manager) Canonicalize(ctx context.Context, spec adapter.ToolSpec) (adapter.ToolSpec, adapter.Tool, error) {
	t, err := m.registry.Lookup(spec.Tool)
	if err != nil {
		return adapter.ToolSpec{}, nil, err
	}
	version, err := adapter.Resolve(ctx, t, spec.Version, m.listFunc(t))
	if err != nil {
		return adapter.ToolSpec{}, nil, err
	}
	return adapter.ToolSpec{Tool: spec.Tool, Version: version}, t, nil
}

func (m *Manager) listFunc(t adapter.Tool) adapter.ListFunc {
	return func(ctx context.Context) ([]adapter.Version, error) {
		return m.cache.GetOrFetch(ctx, t.Name(), m.cfg.CacheTTL, t.ListRemote)
	}
}

// ListRemote returns the remote listing for tool, newest first. refresh
// drops the cached listing first.
func (m *Manager) ListRemote(ctx context.Context, tool string, refresh bool) ([]adapter.Version, error) {
	t, err := m.registry.Lookup(tool)
	if err != nil {
		return nil, err
	}
	if refresh {
		if err := m.cache.Invalidate(tool); err != nil {
			return nil, err
		}
	}
	return m.listFunc(t)(ctx)
}

// Install canonicalizes spec, installs it and activates it unless
// opts.NoActivate is set.
func (m *Manager) Install(ctx context.Context, spec adapter.ToolSpec, opts install.Options) (*install.ToolchainDirectory, error) {
	exact, t, err := m.Canonicalize(ctx, spec)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Canonicalized version", "spec", spec.String(), "version", exact.Version)
	return m.installer.Install(ctx, t, exact.Version, opts)
}

// InstallArchive installs spec from a local archive. spec must name an
// exact version or one the listing can canonicalize.
func (m *Manager) InstallArchive(ctx context.Context, spec adapter.ToolSpec, archivePath string, opts install.Options) (*install.ToolchainDirectory, error) {
	exact, t, err := m.Canonicalize(ctx, spec)
	if err != nil {
		return nil, err
	}
	return m.installer.InstallArchive(ctx, t, exact.Version, archivePath, opts)
}

// InstallAll installs specs concurrently, at most one per tool. Results
// are in input order; the first error cancels the remaining installs.
func (m *Manager) InstallAll(ctx context.Context, specs []adapter.ToolSpec, opts install.Options) ([]*install.ToolchainDirectory, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Tool] {
			return nil, fmt.Errorf("%s requested more than once", s.Tool)
		}
		seen[s.Tool] = true
	}

	results := make([]*install.ToolchainDirectory, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, spec := range specs {
		g.Go(func() error {
			td, err := m.Install(gctx, spec, opts)
			if err != nil {
				return fmt.Errorf("install %s: %w", spec, err)
			}
			results[i] = td
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Activate makes version of tool the active one. version may be a prefix
// of an installed version; otherwise it is canonicalized remotely and must
// be installed.
func (m *Manager) Activate(ctx context.Context, tool, version string) (string, error) {
	t, err := m.registry.Lookup(tool)
	if err != nil {
		return "", err
	}

	exact, err := m.MatchInstalled(tool, version)
	if errs.Is(err, errs.KindVersionNotInstalled) {
		spec, _, cerr := m.Canonicalize(ctx, adapter.ToolSpec{Tool: tool, Version: version})
		if cerr != nil {
			return "", err
		}
		exact = spec.Version
	} else if err != nil {
		return "", err
	}

	if err := m.switcher.Activate(t, exact); err != nil {
		return "", err
	}
	return exact, nil
}

// MatchInstalled resolves spec against installed versions only.
func (m *Manager) MatchInstalled(tool, spec string) (string, error) {
	t, err := m.registry.Lookup(tool)
	if err != nil {
		return "", err
	}
	installed, err := m.ListInstalled(tool)
	if err != nil {
		return "", err
	}
	listing := make([]adapter.Version, len(installed))
	for i, v := range installed {
		listing[i] = adapter.Version{Version: v}
	}

	version, err := adapter.Resolve(context.Background(), t, spec, func(context.Context) ([]adapter.Version, error) {
		return listing, nil
	})
	if err != nil {
		if errs.Is(err, errs.KindVersionNotFound) {
			return "", &errs.VersionNotInstalledError{Tool: tool, Version: spec}
		}
		return "", err
	}
	if !isDir(m.cfg.ToolchainDir(tool, version)) {
		return "", &errs.VersionNotInstalledError{Tool: tool, Version: version}
	}
	return version, nil
}

// Current returns the active version of tool, or "".
func (m *Manager) Current(tool string) (string, error) {
	if err := adapter.ValidateName(tool); err != nil {
		return "", err
	}
	return m.switcher.Current(tool)
}

// Resolve returns the pins that apply to dir, unresolved.
func (m *Manager) Resolve(dir string) (map[string]string, error) {
	return m.resolver.Resolve(dir)
}

// PinFiles returns the pin files that decide Resolve(dir).
func (m *Manager) PinFiles(dir string) ([]resolver.VersionFile, error) {
	return m.resolver.Files(dir)
}

// ApplyPins activates the installed versions pinned for dir.
func (m *Manager) ApplyPins(ctx context.Context, dir string) (*autoswitch.Report, error) {
	return autoswitch.Apply(ctx, m, dir)
}

// ListInstalled returns the installed versions of tool, newest first.
func (m *Manager) ListInstalled(tool string) ([]string, error) {
	if err := adapter.ValidateName(tool); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(m.cfg.ToolDir(tool))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s toolchains: %w", tool, err)
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		versions = append(versions, e.Name())
	}
	adapter.SortVersionStrings(versions)
	return versions, nil
}

// Uninstall removes version of tool. The active version is deactivated
// first so no link dangles. The directory is renamed away before removal
// so a partial delete never looks installed.
func (m *Manager) Uninstall(ctx context.Context, tool, version string) error {
	if err := adapter.ValidateName(tool); err != nil {
		return err
	}
	version = adapter.NormalizeVersion(version)
	if err := adapter.ValidateVersion(version); err != nil {
		return err
	}

	dir := m.cfg.ToolchainDir(tool, version)
	if !isDir(dir) {
		return &errs.VersionNotInstalledError{Tool: tool, Version: version}
	}

	lk, err := m.locker.Acquire(ctx, tool, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			m.logger.Warn("Failed to release install lock", "path", lk.Path(), "error", err)
		}
	}()

	current, err := m.switcher.Current(tool)
	if err != nil {
		return err
	}
	if current == version {
		if err := m.switcher.Deactivate(tool); err != nil {
			return fmt.Errorf("deactivate %s: %w", tool, err)
		}
	}

	if err := os.MkdirAll(m.cfg.CacheDir(), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	trash := filepath.Join(m.cfg.CacheDir(), fmt.Sprintf("%s-%s-%s.trash", tool, version, uuid.NewString()))
	if err := os.Rename(dir, trash); err != nil {
		return fmt.Errorf("move %s@%s aside: %w", tool, version, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		m.logger.Warn("Failed to remove uninstalled toolchain", "path", trash, "error", err)
	}
	if err := os.Remove(m.cfg.SetupPendingFile(tool, version)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove setup marker", "tool", tool, "version", version, "error", err)
	}

	m.logger.Info("Uninstalled toolchain", "tool", tool, "version", version)
	return nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
