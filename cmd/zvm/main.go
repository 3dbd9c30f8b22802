package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/download"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/manager"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

// app carries state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer
	debug  bool
	quiet  bool
	jobs   int // concurrent installs; 0 keeps the manager default

	logger *slog.Logger
	cfg    *config.Config
	mgr    *manager.Manager
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "zvm",
		Short: "zvm installs and switches toolchain versions",
		Long: "zvm keeps several versions of node, go, java, rust and plugin-defined tools\n" +
			"under one directory and switches between them with symlinks.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.setupLogger()
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", os.Getenv(config.EnvDebug) != "", "enable debug logging (or set "+config.EnvDebug+")")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "hide download progress")

	root.AddCommand(
		newInstallCmd(a),
		newUseCmd(a),
		newListCmd(a),
		newListRemoteCmd(a),
		newUninstallCmd(a),
		newCurrentCmd(a),
		newResolveCmd(a),
		newAutoCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setupLogger() {
	level := clog.WarnLevel
	if a.debug {
		level = clog.DebugLevel
	}
	handler := clog.NewWithOptions(a.stderr, clog.Options{
		Level:           level,
		ReportTimestamp: a.debug,
	})
	a.logger = slog.New(handler)
}

// loadConfig resolves the root and reads config.toml.
func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	if a.logger == nil {
		a.setupLogger()
	}
	root, err := config.ResolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root, a.logger)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

// manager opens the manager once per invocation.
func (a *app) manager(ctx context.Context) (*manager.Manager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	dlOpts := []download.Option{download.WithLogger(a.logger), download.WithRetries(cfg.DownloadRetries)}
	if !a.quiet {
		dlOpts = append(dlOpts, download.WithProgress(a.progress))
	}
	opts := []manager.Option{manager.WithDownloader(download.New(cfg, dlOpts...))}
	if a.jobs > 0 {
		opts = append(opts, manager.WithParallelism(a.jobs))
	}
	m, err := manager.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.mgr = m
	return m, nil
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
}

func (a *app) progress(p download.Progress) {
	if p.Done {
		fmt.Fprintf(a.stderr, "\rDownloaded %s in %s\n", humanize.Bytes(uint64(p.Bytes)), p.Elapsed.Round(100*time.Millisecond))
		return
	}
	if p.Total > 0 {
		fmt.Fprintf(a.stderr, "\rDownloading %s / %s", humanize.Bytes(uint64(p.Bytes)), humanize.Bytes(uint64(p.Total)))
		return
	}
	fmt.Fprintf(a.stderr, "\rDownloading %s", humanize.Bytes(uint64(p.Bytes)))
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.stdout, format, args...)
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := hintFor(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

// hintFor returns a next step for the user based on the error kind.
func hintFor(err error) string {
	if errors.Is(err, context.Canceled) {
		return "interrupted; temporary files were removed"
	}

	switch errs.KindOf(err) {
	case errs.KindNetwork:
		return "check your network connection or proxy settings and retry"
	case errs.KindUpstreamNotFound:
		return "the version may not be published for this platform; see 'zvm list-remote <tool>'"
	case errs.KindChecksumMismatch:
		return "the download is corrupt or was tampered with; retry, and report it if it persists"
	case errs.KindPathTraversal:
		return "the archive tried to write outside the install directory and was rejected"
	case errs.KindDiskSpace:
		var de *errs.DiskSpaceError
		if errors.As(err, &de) {
			return fmt.Sprintf("free up disk space on %s: %s needed, %s available",
				de.Path, humanize.IBytes(de.Required), humanize.IBytes(de.Available))
		}
		return "free up disk space and retry"
	case errs.KindLockContention:
		return "another zvm process is installing this version; wait for it to finish"
	case errs.KindVersionNotInstalled:
		return "install it first with 'zvm install <tool>@<version>'"
	case errs.KindToolNotSupported:
		return "add a Lua plugin under $" + config.EnvHome + "/plugins to support more tools"
	case errs.KindVersionNotFound:
		return "see 'zvm list-remote <tool>' for available versions"
	case errs.KindHomeDirectory:
		return "set " + config.EnvHome + " to choose where toolchains live"
	case errs.KindPostInstall:
		return "the toolchain is on disk but its setup failed; run the same install again to retry the setup"
	case errs.KindSignature:
		return "the archive signature did not verify; do not use this download"
	}
	return ""
}
