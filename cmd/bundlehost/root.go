package main

import (
	"fmt"
	"io"
	"os"

	"github.com/artpar/bundlehost/bootstrap"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bundlehost",
	Short: "Module host with a service registry and session-based security",
	Long: `bundlehost hosts modules with an explicit lifecycle, a service registry
and a kernel module that authenticates users and issues sessions.

Quick start:
  bundlehost serve     # Start the host and its admin API

Management:
  bundlehost modules   # Inspect installed modules
  bundlehost users     # Manage users
  bundlehost login     # Start a session
  bundlehost validate  # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "bundlehost.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
}

// withApp boots the host without serving HTTP, runs fn, then shuts down.
func withApp(fn func(a *bootstrap.App) error) error {
	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}

	a, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile, LogOutput: out})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer a.Shutdown()

	return fn(a)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
