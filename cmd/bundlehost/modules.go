package main

import (
	"github.com/artpar/bundlehost/bootstrap"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Inspect modules",
	Long: `Boot the configured modules and report their state.

Examples:
  bundlehost modules list
  bundlehost modules find '^.*imios.*$'
  bundlehost modules list -o json
  bundlehost modules services`,
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *bootstrap.App) error {
			return render(cmd.OutOrStdout(), moduleResource, moduleRecords(a.Runtime.Modules()))
		})
	},
}

var modulesFindCmd = &cobra.Command{
	Use:   "find <pattern>",
	Short: "List modules whose symbolic name matches a regular expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *bootstrap.App) error {
			mods, err := a.Runtime.Find(args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), moduleResource, moduleRecords(mods))
		})
	},
}

var modulesServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List live service registrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *bootstrap.App) error {
			return render(cmd.OutOrStdout(), serviceResource, serviceRecords(a.Runtime, a.Runtime.Services()))
		})
	},
}

func init() {
	rootCmd.AddCommand(modulesCmd)

	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesFindCmd)
	modulesCmd.AddCommand(modulesServicesCmd)
}
