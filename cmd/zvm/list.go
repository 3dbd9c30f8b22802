package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list [tool]",
		Aliases: []string{"ls"},
		Short:   "List installed versions",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			tools := m.Tools()
			if len(args) == 1 {
				tools = args
			}

			for _, tool := range tools {
				versions, err := m.ListInstalled(tool)
				if err != nil {
					return err
				}
				if len(versions) == 0 {
					if len(args) == 1 {
						a.printf("No %s versions installed\n", tool)
					}
					continue
				}
				current, err := m.Current(tool)
				if err != nil {
					return err
				}
				a.printf("%s\n", tool)
				for _, v := range versions {
					marker := " "
					if v == current {
						marker = "*"
					}
					a.printf("  %s %s\n", marker, v)
				}
			}
			return nil
		},
	}
}

func newListRemoteCmd(a *app) *cobra.Command {
	var (
		refresh bool
		ltsOnly bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "list-remote <tool>",
		Aliases: []string{"ls-remote"},
		Short:   "List versions available for download",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			listing, err := m.ListRemote(cmd.Context(), args[0], refresh)
			if err != nil {
				return err
			}

			shown := 0
			for _, v := range listing {
				if ltsOnly && v.LTS == "" {
					continue
				}
				if limit > 0 && shown == limit {
					break
				}
				if v.LTS != "" {
					a.printf("%s (lts: %s)\n", v.Version, v.LTS)
				} else {
					a.printf("%s\n", v.Version)
				}
				shown++
			}
			if shown == 0 {
				return fmt.Errorf("no versions of %s found", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached listing")
	cmd.Flags().BoolVar(&ltsOnly, "lts", false, "only show long-term support releases")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n versions")
	return cmd
}

func newUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <tool@version>",
		Aliases: []string{"rm"},
		Short:   "Remove an installed version",
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
			// prefixes are matched against what is installed
			version, err := m.MatchInstalled(spec.Tool, spec.Version)
			if err != nil {
				return err
			}
			if err := m.Uninstall(cmd.Context(), spec.Tool, version); err != nil {
				return err
			}
			a.printf("Uninstalled %s %s\n", spec.Tool, version)
			return nil
		},
	}
}
