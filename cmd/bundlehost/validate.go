package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/artpar/bundlehost/adapters/sqlite"
	"github.com/artpar/bundlehost/bootstrap"
	"github.com/artpar/bundlehost/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the bundlehost configuration file.

Checks:
  - YAML syntax is valid
  - Values are in range
  - Every listed module is a built-in module
  - Database is writable and migrates (optional)

Examples:
  bundlehost validate
  bundlehost validate --config /etc/bundlehost/config.yaml --check-database`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	catalog := bootstrap.BuiltinCatalog(bootstrap.ModuleConfig{})
	var unknown []string
	for _, name := range cfg.Modules {
		if !catalog.Has(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		fmt.Fprintf(out, "  %s Modules known\n", crossMark)
		return fmt.Errorf("unknown modules %s, available: %s",
			strings.Join(unknown, ", "), strings.Join(catalog.Names(), ", "))
	}

	fmt.Fprintf(out, "  %s Modules: %s\n", checkMark, strings.Join(cfg.Modules, ", "))
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Default source: %s\n", checkMark, cfg.Security.DefaultSource)
	fmt.Fprintf(out, "  %s Session TTL: %s (sliding: %t)\n", checkMark, cfg.Security.SessionTTL, cfg.Security.Sliding())
	fmt.Fprintf(out, "  %s Lookup policy: %s\n", checkMark, cfg.Registry.LookupPolicy)

	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabaseWritable(cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database writable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabaseWritable(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Migrate(ctx)
	return err
}
