package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
	"github.com/ZebulonRouseFrantzich/zvm/internal/install"
)

// installFlags holds command-line flags for install
type installFlags struct {
	noActivate bool
	archive    string
	sha256     string
}

func newInstallCmd(a *app) *cobra.Command {
	flags := &installFlags{}
	cmd := &cobra.Command{
		Use:   "install [tool@version...]",
		Short: "Install toolchains",
		Long: "Install one or more toolchains. Versions may be exact, a prefix such as\n" +
			"node@20, or an alias such as node@lts. Without arguments the versions\n" +
			"pinned for the current directory are installed.",
		Example: "  zvm install node@20\n  zvm install go@1.22.1 rust@stable\n  zvm install java@21 --archive ./jdk.tar.gz --sha256 <hex>",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, a, flags, args)
		},
	}
	cmd.Flags().BoolVar(&flags.noActivate, "no-activate", false, "install without switching to the new version")
	cmd.Flags().StringVar(&flags.archive, "archive", "", "install from a local archive instead of downloading")
	cmd.Flags().StringVar(&flags.sha256, "sha256", "", "expected SHA-256 of --archive")
	cmd.Flags().IntVarP(&a.jobs, "jobs", "j", 0, "install at most this many toolchains at once")
	return cmd
}

func runInstall(cmd *cobra.Command, a *app, flags *installFlags, args []string) error {
	ctx := cmd.Context()
	m, err := a.manager(ctx)
	if err != nil {
		return err
	}
	opts := install.Options{NoActivate: flags.noActivate, SHA256: flags.sha256}

	specs, err := parseSpecs(args)
	if err != nil {
		return err
	}

	if flags.archive != "" {
		if len(specs) != 1 {
			return fmt.Errorf("--archive needs exactly one tool@version")
		}
		td, err := m.InstallArchive(ctx, specs[0], flags.archive, opts)
		if err != nil {
			return err
		}
		a.reportInstall(td)
		return nil
	}

	if len(specs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		pins, err := m.Resolve(wd)
		if err != nil {
			return err
		}
		if len(pins) == 0 {
			return fmt.Errorf("nothing to install: no tool given and no version pinned in %s", wd)
		}
		for tool, version := range pins {
			specs = append(specs, adapter.ToolSpec{Tool: tool, Version: version})
		}
		sort.Slice(specs, func(i, j int) bool { return specs[i].Tool < specs[j].Tool })
	}

	if len(specs) == 1 {
		td, err := m.Install(ctx, specs[0], opts)
		if err != nil {
			return err
		}
		a.reportInstall(td)
		return nil
	}

	results, err := m.InstallAll(ctx, specs, opts)
	for _, td := range results {
		if td != nil {
			a.reportInstall(td)
		}
	}
	return err
}

func (a *app) reportInstall(td *install.ToolchainDirectory) {
	switch {
	case td.SetupCompleted:
		a.printf("Finished setting up %s %s\n", td.Tool, td.Version)
	case td.AlreadyInstalled:
		a.printf("%s %s is already installed\n", td.Tool, td.Version)
	default:
		a.printf("Installed %s %s (%s) in %s\n", td.Tool, td.Version, td.Verification, td.Elapsed.Round(time.Millisecond))
	}
	if td.Activated {
		a.printf("Now using %s %s\n", td.Tool, td.Version)
	}
}

func parseSpecs(args []string) ([]adapter.ToolSpec, error) {
	specs := make([]adapter.ToolSpec, 0, len(args))
	for _, arg := range args {
		spec, err := adapter.ParseToolSpec(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseSpec(arg string) (adapter.ToolSpec, error) {
	spec, err := adapter.ParseToolSpec(arg)
	if err != nil {
		return adapter.ToolSpec{}, err
	}
	if spec.Version == "" {
		return adapter.ToolSpec{}, fmt.Errorf("missing version in %q, expected tool@version", arg)
	}
	return spec, nil
}
