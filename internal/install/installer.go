// Package install places toolchains under toolchains/<tool>/<version>.
//
// An install holds the per-version lock, checks free disk space before any
// network traffic, downloads into cache/, verifies the archive, extracts it
// into a staging directory beside the download and moves the result into
// place with a single rename. A toolchain directory therefore either does
// not exist or is complete.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/download"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/lock"
	"github.com/ZebulonRouseFrantzich/zvm/internal/switcher"
	"github.com/ZebulonRouseFrantzich/zvm/internal/verify"
)

// ToolchainDirectory describes an installed toolchain.
type ToolchainDirectory struct {
	Tool             string
	Version          string
	Path             string
	SHA256           string
	Verification     verify.Method
	AlreadyInstalled bool
	// SetupCompleted is set when an earlier install left the toolchain
	// placed but its post-install step failed, and this run finished it.
	SetupCompleted bool
	Activated      bool
	Elapsed          time.Duration
}

// Options tunes a single install.
type Options struct {
	// NoActivate leaves current/ and bin/ untouched.
	NoActivate bool
	// SHA256 is the expected digest of a local archive given to
	// InstallArchive. Downloads use the adapter's published checksum.
	SHA256 string
}

// Installer runs installs against one root.
type Installer struct {
	cfg        *config.Config
	downloader *download.Downloader
	locker     *lock.Locker
	switcher   *switcher.Switcher
	freeSpace  FreeSpaceFunc
	logger     config.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithFreeSpace replaces the disk space probe.
func WithFreeSpace(fn FreeSpaceFunc) Option {
	return func(i *Installer) { i.freeSpace = fn }
}

// WithLocker replaces the install lock manager.
func WithLocker(l *lock.Locker) Option {
	return func(i *Installer) { i.locker = l }
}

// New returns an installer for cfg.
func New(cfg *config.Config, dl *download.Downloader, sw *switcher.Switcher, opts ...Option) *Installer {
	logger := config.OrNop(cfg.Logger)
	i := &Installer{
		cfg:        cfg,
		downloader: dl,
		locker:     lock.NewLocker(cfg.LocksDir(), logger),
		switcher:   sw,
		freeSpace:  GopsutilFreeSpace,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install downloads and installs version of t. version must already be
// exact. An existing installation is returned without network access.
func (i *Installer) Install(ctx context.Context, t adapter.Tool, version string, opts Options) (*ToolchainDirectory, error) {
	return i.install(ctx, t, version, "", opts)
}

// InstallArchive installs version of t from a local archive.
func (i *Installer) InstallArchive(ctx context.Context, t adapter.Tool, version, archivePath string, opts Options) (*ToolchainDirectory, error) {
	if archivePath == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	return i.install(ctx, t, version, archivePath, opts)
}

func (i *Installer) install(ctx context.Context, t adapter.Tool, version, localArchive string, opts Options) (*ToolchainDirectory, error) {
	start := time.Now()
	tool := t.Name()
	if err := adapter.ValidateVersion(version); err != nil {
		return nil, err
	}

	dir := i.cfg.ToolchainDir(tool, version)
	pending := i.cfg.SetupPendingFile(tool, version)
	result := &ToolchainDirectory{Tool: tool, Version: version, Path: dir}

	if isDir(dir) && !exists(pending) {
		result.AlreadyInstalled = true
		return result, nil
	}

	lk, err := i.locker.Acquire(ctx, tool, version)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			i.logger.Warn("Failed to release install lock", "path", lk.Path(), "error", err)
		}
	}()

	// another process may have finished while we were acquiring
	if isDir(dir) {
		result.AlreadyInstalled = true
		if !exists(pending) {
			return result, nil
		}
		i.logger.Info("Retrying post-install setup", "tool", tool, "version", version)
		if err := i.finish(ctx, t, version, pending, opts, result); err != nil {
			return nil, err
		}
		result.SetupCompleted = true
		result.Elapsed = time.Since(start)
		return result, nil
	}

	if err := i.checkDiskSpace(ctx); err != nil {
		return nil, err
	}

	guard := newCleanupGuard(i.logger)
	defer guard.run()

	if err := os.MkdirAll(i.cfg.CacheDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	stem := filepath.Join(i.cfg.CacheDir(), fmt.Sprintf("%s-%s-%s", tool, version, uuid.NewString()))

	var (
		archive string
		format  Format
	)
	if localArchive != "" {
		archive = localArchive
		format = DetectFormat(localArchive)
		if err := i.verifyLocal(localArchive, opts.SHA256, result); err != nil {
			return nil, err
		}
	} else {
		archive = stem + ".download"
		guard.add(archive)
		if format, err = i.fetch(ctx, t, version, archive, result); err != nil {
			return nil, err
		}
	}
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(archive))
	}

	staging := stem + ".extract"
	guard.add(staging)
	if err := Extract(ctx, archive, staging, format); err != nil {
		return nil, fmt.Errorf("extract %s@%s: %w", tool, version, err)
	}

	root, err := selectRoot(staging)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(i.cfg.ToolDir(tool), 0o755); err != nil {
		return nil, fmt.Errorf("create tool dir: %w", err)
	}
	if err := os.Rename(root, dir); err != nil {
		return nil, fmt.Errorf("place toolchain: %w", err)
	}
	i.logger.Info("Installed toolchain", "tool", tool, "version", version, "path", dir, "verification", result.Verification)

	if err := i.finish(ctx, t, version, pending, opts, result); err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// finish runs the post-install step and activates. The pending file marks
// a placed toolchain whose setup has not succeeded yet, so a later install
// of the same version retries it instead of reporting it installed.
func (i *Installer) finish(ctx context.Context, t adapter.Tool, version, pending string, opts Options, result *ToolchainDirectory) error {
	tool := t.Name()
	if err := os.WriteFile(pending, nil, 0o644); err != nil {
		return fmt.Errorf("mark %s@%s setup pending: %w", tool, version, err)
	}
	if err := t.PostInstall(ctx, result.Path); err != nil {
		return &errs.PostInstallError{Tool: tool, Version: version, Err: err}
	}
	if err := os.Remove(pending); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear %s@%s setup marker: %w", tool, version, err)
	}

	if !opts.NoActivate {
		if err := i.switcher.Activate(t, version); err != nil {
			return fmt.Errorf("activate %s@%s: %w", tool, version, err)
		}
		result.Activated = true
	}
	return nil
}

// fetch downloads the archive to dest and verifies its checksum and, when
// the adapter publishes one, its detached signature.
func (i *Installer) fetch(ctx context.Context, t adapter.Tool, version, dest string, result *ToolchainDirectory) (Format, error) {
	url, err := t.DownloadURL(ctx, version)
	if err != nil {
		return FormatUnknown, fmt.Errorf("resolve download url: %w", err)
	}
	format := DetectFormat(url)
	if format == FormatUnknown {
		return FormatUnknown, fmt.Errorf("unsupported archive format: %s", url)
	}

	sum, err := t.Checksum(ctx, version)
	if err != nil {
		return FormatUnknown, fmt.Errorf("resolve checksum: %w", err)
	}

	i.logger.Debug("Downloading toolchain", "tool", t.Name(), "version", version, "url", url)
	res, err := i.downloader.Fetch(ctx, url, dest, sum)
	if err != nil {
		return FormatUnknown, err
	}
	result.SHA256 = res.SHA256
	result.Verification = res.Verification

	sp, ok := t.(adapter.SignatureProvider)
	if !ok {
		return format, nil
	}
	sig, err := sp.Signature(ctx, version)
	if err != nil {
		return FormatUnknown, fmt.Errorf("fetch signature: %w", err)
	}
	if sig == nil {
		return format, nil
	}
	method, err := verify.VerifyFile(dest, *sig)
	if err != nil {
		return FormatUnknown, err
	}
	result.Verification = method
	return format, nil
}

func (i *Installer) verifyLocal(path, expected string, result *ToolchainDirectory) error {
	sum, err := verify.SHA256File(path)
	if err != nil {
		return err
	}
	result.SHA256 = sum

	if expected == "" {
		i.logger.Warn("Installing local archive without a checksum, integrity unverified", "path", path)
		result.Verification = verify.MethodNone
		return nil
	}
	if !verify.EqualChecksum(sum, expected) {
		return &errs.ChecksumMismatchError{Path: path, Expected: expected, Actual: sum}
	}
	result.Verification = verify.MethodSHA256
	return nil
}

func (i *Installer) checkDiskSpace(ctx context.Context) error {
	free, err := i.freeSpace(ctx, i.cfg.Root)
	if err != nil {
		i.logger.Warn("Could not determine free disk space", "path", i.cfg.Root, "error", err)
		return nil
	}
	if free < i.cfg.MinFreeSpace {
		return &errs.DiskSpaceError{Path: i.cfg.Root, Required: i.cfg.MinFreeSpace, Available: free}
	}
	return nil
}

// selectRoot returns the single top-level directory of an extracted
// archive, or staging itself when the archive has several top-level entries.
func selectRoot(staging string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", fmt.Errorf("read staging dir: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("archive is empty")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(staging, entries[0].Name()), nil
	}
	return staging, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
