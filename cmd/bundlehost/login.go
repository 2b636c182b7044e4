package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/bundlehost/bootstrap"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <login>",
	Short: "Authenticate against the kernel and print a session id",
	Long: `Start a session through the security controller.

The session id can be passed to the admin API as a Bearer token.

Examples:
  bundlehost login admin
  bundlehost login admin --source=kimios --password=kimios`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var (
	loginSource   string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginSource, "source", "", "user source (default: security.default_source)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		var err error
		if password, err = promptPassword("Password: "); err != nil {
			return err
		}
	}

	return withApp(func(a *bootstrap.App) error {
		ctrl, ok := a.SecurityController()
		if !ok {
			return errors.New("kernel module is not active")
		}

		sess, err := ctrl.StartSession(context.Background(), args[0], loginSource, password)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Login failed\n", crossMark)
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Logged in as %s@%s\n", checkMark, sess.UserID, sess.Source)
		fmt.Fprintf(cmd.OutOrStdout(), "  session: %s\n", sess.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "  expires: %s\n", sess.ExpiresAt.Format(time.RFC3339))
		return nil
	})
}
