package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/zvm/internal/autoswitch"
	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
)

func newUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "use <tool@version>",
		Short:   "Switch to an installed version",
		Example: "  zvm use node@20\n  zvm use go@1.22.1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parseSpec(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			version, err := m.Activate(cmd.Context(), spec.Tool, spec.Version)
			if err != nil {
				return err
			}
			a.printf("Now using %s %s\n", spec.Tool, version)
			return nil
		},
	}
}

func newCurrentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current [tool]",
		Short: "Show active versions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				version, err := m.Current(args[0])
				if err != nil {
					return err
				}
				if version == "" {
					return fmt.Errorf("no active version of %s", args[0])
				}
				a.printf("%s\n", version)
				return nil
			}
			for _, tool := range m.Tools() {
				version, err := m.Current(tool)
				if err != nil {
					return err
				}
				if version != "" {
					a.printf("%s %s\n", tool, version)
				}
			}
			return nil
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "resolve [dir]",
		Short: "Show the versions pinned for a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dirArg(args)
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}

			if verbose {
				files, err := m.PinFiles(dir)
				if err != nil {
					return err
				}
				for _, f := range files {
					a.printf("# %s (%s)\n", f.Path, f.Class)
				}
			}
			pins, err := m.Resolve(dir)
			if err != nil {
				return err
			}
			for _, tool := range sortedKeys(pins) {
				a.printf("%s %s\n", tool, pins[tool])
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print the pin files used")
	return cmd
}

func newAutoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auto [dir]",
		Short: "Activate the installed versions pinned for a directory",
		Long: "Activate the versions pinned for a directory. Pinned versions that are\n" +
			"not installed are skipped and listed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dirArg(args)
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			report, err := m.ApplyPins(cmd.Context(), dir)
			if report != nil {
				a.printReport(report)
			}
			return err
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep pinned versions active while pin files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dirArg(args)
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			return autoswitch.Watch(cmd.Context(), m, dir, autoswitch.WatchOptions{
				Logger: a.logger,
				OnApply: func(r *autoswitch.Report, err error) {
					if r != nil {
						a.printReport(r)
					}
					if err != nil {
						printError(a.stderr, err)
					}
				},
			})
		},
	}
}

func (a *app) printReport(r *autoswitch.Report) {
	if r.Empty() {
		a.printf("No versions pinned\n")
		return
	}
	for _, c := range r.Activated {
		if c.From == "" {
			a.printf("Now using %s %s\n", c.Tool, c.To)
		} else {
			a.printf("Switched %s %s -> %s\n", c.Tool, c.From, c.To)
		}
	}
	for _, tool := range sortedKeys(r.Missing) {
		a.printf("%s %s is pinned but not installed (zvm install %s@%s)\n", tool, r.Missing[tool], tool, r.Missing[tool])
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings in config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			a.printf("root                  %s\n", cfg.Root)
			a.printf("cache_ttl_secs        %d\n", int64(cfg.CacheTTL.Seconds()))
			a.printf("min_free_space_mb     %d\n", cfg.MinFreeSpace/(1024*1024))
			a.printf("connect_timeout_secs  %d\n", int64(cfg.ConnectTimeout.Seconds()))
			a.printf("download_timeout_secs %d\n", int64(cfg.DownloadTimeout.Seconds()))
			a.printf("download_retries      %d\n", cfg.DownloadRetries)
			return nil
		},
	}

	var (
		cacheTTL, connectTimeout, downloadTimeout int64
		minFreeMB, retries                        uint64
	)
	set := &cobra.Command{
		Use:     "set",
		Short:   "Write settings to config.toml",
		Example: "  zvm config set --cache-ttl 600",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("cache-ttl") && !flags.Changed("min-free-space") &&
				!flags.Changed("connect-timeout") && !flags.Changed("download-timeout") &&
				!flags.Changed("retries") {
				return fmt.Errorf("nothing to set")
			}
			applySettings(cfg, cmd, cacheTTL, minFreeMB, connectTimeout, downloadTimeout, retries)
			if err := cfg.Save(); err != nil {
				return err
			}
			a.printf("Updated %s\n", cfg.ConfigFile())
			return nil
		},
	}
	set.Flags().Int64Var(&cacheTTL, "cache-ttl", 0, "remote listing cache lifetime in seconds")
	set.Flags().Uint64Var(&minFreeMB, "min-free-space", 0, "free disk space required before an install, in MB")
	set.Flags().Int64Var(&connectTimeout, "connect-timeout", 0, "connection timeout in seconds")
	set.Flags().Int64Var(&downloadTimeout, "download-timeout", 0, "total transfer timeout in seconds")
	set.Flags().Uint64Var(&retries, "retries", 0, "download attempts per archive")
	cmd.AddCommand(set)
	return cmd
}

func applySettings(cfg *config.Config, cmd *cobra.Command, cacheTTL int64, minFreeMB uint64, connect, download int64, retries uint64) {
	flags := cmd.Flags()
	if flags.Changed("cache-ttl") && cacheTTL >= 0 {
		cfg.CacheTTL = seconds(cacheTTL)
	}
	if flags.Changed("min-free-space") {
		cfg.MinFreeSpace = minFreeMB * 1024 * 1024
	}
	if flags.Changed("connect-timeout") && connect > 0 {
		cfg.ConnectTimeout = seconds(connect)
	}
	if flags.Changed("download-timeout") && download > 0 {
		cfg.DownloadTimeout = seconds(download)
	}
	if flags.Changed("retries") && retries > 0 {
		cfg.DownloadRetries = uint(retries)
	}
}

func dirArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
