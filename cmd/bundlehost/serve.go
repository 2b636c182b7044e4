package main

import (
	"fmt"

	"github.com/artpar/bundlehost/bootstrap"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the module host and admin API",
	Long: `Start bundlehost.

The server will:
  - Load configuration from bundlehost.yaml (or --config)
  - Or load configuration from BUNDLEHOST_* environment variables
  - Open the user and session store and seed the administrator
  - Install, resolve and start the configured modules
  - Serve the admin API under /admin and metrics under /metrics

Environment variables:
  BUNDLEHOST_DATABASE_DSN     - Database path (default: bundlehost.db)
  BUNDLEHOST_SERVER_PORT      - Server port (default: 8181)
  BUNDLEHOST_MODULES          - Modules to deploy (default: kernel,greeter)
  BUNDLEHOST_ADMIN_PASSWORD   - Bootstrap admin password
  BUNDLEHOST_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  bundlehost serve
  bundlehost serve --config /etc/bundlehost/config.yaml
  bundlehost serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload configuration on file change and SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile, Watch: hotReload})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return a.Run()
}
