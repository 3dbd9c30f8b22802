package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

const (
	// EnvHome overrides the installation root.
	EnvHome = "ZVM_HOME"
	// EnvDebug enables debug logging in the CLI.
	EnvDebug = "ZVM_DEBUG"

	// DefaultDirName is the root directory name under the user's home.
	DefaultDirName = ".zvm"
	// FileName is the name of the config file under the root.
	FileName = "config.toml"

	DefaultCacheTTL        = 300 * time.Second
	DefaultMinFreeSpace    = 500 * 1024 * 1024
	DefaultConnectTimeout  = 30 * time.Second
	DefaultDownloadTimeout = 300 * time.Second
	DefaultDownloadRetries = 3
)

// Config is loaded once at process start and passed explicitly to every
// core component.
type Config struct {
	Root            string
	CacheTTL        time.Duration
	MinFreeSpace    uint64
	ConnectTimeout  time.Duration
	DownloadTimeout time.Duration
	DownloadRetries uint // total attempts per archive fetch

	Logger Logger
	Clock  Clock
}

// fileConfig mirrors config.toml. Pointer fields distinguish "absent" from zero.
type fileConfig struct {
	CacheTTLSecs        *int64  `toml:"cache_ttl_secs"`
	MinFreeSpaceMB      *uint64 `toml:"min_free_space_mb"`
	ConnectTimeoutSecs  *int64  `toml:"connect_timeout_secs"`
	DownloadTimeoutSecs *int64  `toml:"download_timeout_secs"`
	DownloadRetries     *uint   `toml:"download_retries"`
}

// Default returns a Config rooted at root with built-in defaults.
func Default(root string) *Config {
	return &Config{
		Root:            root,
		CacheTTL:        DefaultCacheTTL,
		MinFreeSpace:    DefaultMinFreeSpace,
		ConnectTimeout:  DefaultConnectTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
		DownloadRetries: DefaultDownloadRetries,
		Logger:          NopLogger(),
		Clock:           RealClock{},
	}
}

// ResolveRoot returns $ZVM_HOME, or ~/.zvm.
func ResolveRoot() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", EnvHome, err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errs.ErrHomeDirectoryUnresolvable
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads <root>/config.toml on top of the defaults. A missing file yields
// the defaults; an unparseable file yields the defaults plus a warning.
func Load(root string, logger Logger) (*Config, error) {
	cfg := Default(root)
	cfg.Logger = OrNop(logger)

	path := cfg.ConfigFile()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		cfg.Logger.Warn("ignoring invalid config file", "path", path, "error", err)
		return cfg, nil
	}

	if fc.CacheTTLSecs != nil && *fc.CacheTTLSecs >= 0 {
		cfg.CacheTTL = time.Duration(*fc.CacheTTLSecs) * time.Second
	}
	if fc.MinFreeSpaceMB != nil {
		cfg.MinFreeSpace = *fc.MinFreeSpaceMB * 1024 * 1024
	}
	if fc.ConnectTimeoutSecs != nil && *fc.ConnectTimeoutSecs > 0 {
		cfg.ConnectTimeout = time.Duration(*fc.ConnectTimeoutSecs) * time.Second
	}
	if fc.DownloadTimeoutSecs != nil && *fc.DownloadTimeoutSecs > 0 {
		cfg.DownloadTimeout = time.Duration(*fc.DownloadTimeoutSecs) * time.Second
	}
	if fc.DownloadRetries != nil && *fc.DownloadRetries > 0 {
		cfg.DownloadRetries = *fc.DownloadRetries
	}

	cfg.Logger.Debug("loaded config", "path", path, "cache_ttl", cfg.CacheTTL)
	return cfg, nil
}

// Save writes the tunable fields back to config.toml.
func (c *Config) Save() error {
	ttl := int64(c.CacheTTL / time.Second)
	mb := c.MinFreeSpace / (1024 * 1024)
	connect := int64(c.ConnectTimeout / time.Second)
	download := int64(c.DownloadTimeout / time.Second)
	retries := c.DownloadRetries

	data, err := toml.Marshal(fileConfig{
		CacheTTLSecs:        &ttl,
		MinFreeSpaceMB:      &mb,
		ConnectTimeoutSecs:  &connect,
		DownloadTimeoutSecs: &download,
		DownloadRetries:     &retries,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return fmt.Errorf("create root: %w", err)
	}
	tmp := c.ConfigFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, c.ConfigFile())
}

// EnsureLayout creates the top-level directories under the root.
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{
		c.ToolchainsDir(),
		c.CurrentDir(),
		c.BinDir(),
		c.CacheDir(),
		c.RemoteVersionsDir(),
		c.LocksDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) ConfigFile() string        { return filepath.Join(c.Root, FileName) }
func (c *Config) ToolchainsDir() string     { return filepath.Join(c.Root, "toolchains") }
func (c *Config) CurrentDir() string        { return filepath.Join(c.Root, "current") }
func (c *Config) BinDir() string            { return filepath.Join(c.Root, "bin") }
func (c *Config) CacheDir() string          { return filepath.Join(c.Root, "cache") }
func (c *Config) RemoteVersionsDir() string { return filepath.Join(c.CacheDir(), "remote_versions") }
func (c *Config) LocksDir() string          { return filepath.Join(c.Root, "locks") }
func (c *Config) PluginsDir() string        { return filepath.Join(c.Root, "plugins") }

// ToolDir returns toolchains/<tool>.
func (c *Config) ToolDir(tool string) string {
	return filepath.Join(c.ToolchainsDir(), tool)
}

// ToolchainDir returns toolchains/<tool>/<version>.
func (c *Config) ToolchainDir(tool, version string) string {
	return filepath.Join(c.ToolchainsDir(), tool, version)
}

// SetupPendingFile returns toolchains/<tool>/.<version>.setup, present while
// a placed toolchain has not completed its post-install step.
func (c *Config) SetupPendingFile(tool, version string) string {
	return filepath.Join(c.ToolchainsDir(), tool, "."+version+".setup")
}

// CurrentLink returns current/<tool>.
func (c *Config) CurrentLink(tool string) string {
	return filepath.Join(c.CurrentDir(), tool)
}
