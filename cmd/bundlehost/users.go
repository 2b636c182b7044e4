package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/artpar/bundlehost/adapters/hasher"
	"github.com/artpar/bundlehost/adapters/sqlite"
	"github.com/artpar/bundlehost/bootstrap"
	"github.com/artpar/bundlehost/config"
	"github.com/artpar/bundlehost/domain/security"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
	Long: `Manage the users the kernel authenticates.

Listing goes through the security controller; writes go straight to the
SQLite user table and need the sqlite database driver.

Examples:
  bundlehost users list
  bundlehost users list --source=kimios
  bundlehost users create jdoe --name="Jane Doe"
  bundlehost users set-password admin
  bundlehost users disable jdoe`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the users of a source",
	RunE:  runUsersList,
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <login>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersCreate,
}

var usersSetPasswordCmd = &cobra.Command{
	Use:   "set-password <login>",
	Short: "Set or reset a user's password",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersSetPassword,
}

var usersEnableCmd = &cobra.Command{
	Use:   "enable <login>",
	Short: "Enable a user",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setUserEnabled(args[0], true) },
}

var usersDisableCmd = &cobra.Command{
	Use:   "disable <login>",
	Short: "Disable a user",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setUserEnabled(args[0], false) },
}

var (
	userSource   string
	userName     string
	userEmail    string
	userPassword string
)

func init() {
	rootCmd.AddCommand(usersCmd)

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersSetPasswordCmd)
	usersCmd.AddCommand(usersEnableCmd)
	usersCmd.AddCommand(usersDisableCmd)

	usersCmd.PersistentFlags().StringVar(&userSource, "source", "", "user source (default: security.default_source)")

	usersCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	usersCreateCmd.Flags().StringVar(&userPassword, "password", "", "password (will prompt if not provided)")

	usersSetPasswordCmd.Flags().StringVar(&userPassword, "password", "", "new password (will prompt if not provided)")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	return withApp(func(a *bootstrap.App) error {
		ctrl, ok := a.SecurityController()
		if !ok {
			return errors.New("kernel module is not active")
		}

		users, err := ctrl.GetUsers(context.Background(), userSource)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		return render(cmd.OutOrStdout(), userResource, userRecords(users))
	})
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	ds, source, closeDB, err := openDataSource()
	if err != nil {
		return err
	}
	defer closeDB()

	password := userPassword
	if password == "" {
		if password, err = promptNewPassword(); err != nil {
			return err
		}
	}

	user := security.User{
		UID:     security.NormalizeLogin(args[0]),
		Source:  source,
		Name:    userName,
		Email:   userEmail,
		Enabled: true,
	}
	if err := ds.CreateUser(context.Background(), user, password); err != nil {
		if errors.Is(err, sqlite.ErrDuplicate) {
			return fmt.Errorf("user %s already exists under %s", user.UID, source)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("%s Created user %s under %s\n", checkMark, user.UID, source)
	return nil
}

func runUsersSetPassword(cmd *cobra.Command, args []string) error {
	ds, source, closeDB, err := openDataSource()
	if err != nil {
		return err
	}
	defer closeDB()

	password := userPassword
	if password == "" {
		if password, err = promptNewPassword(); err != nil {
			return err
		}
	}

	login := security.NormalizeLogin(args[0])
	if err := ds.SetCredential(context.Background(), source, login, password); err != nil {
		if errors.Is(err, security.ErrUserNotFound) {
			return fmt.Errorf("user %s not found under %s", login, source)
		}
		return fmt.Errorf("failed to set password: %w", err)
	}

	fmt.Printf("%s Password updated for %s\n", checkMark, login)
	return nil
}

func setUserEnabled(login string, enabled bool) error {
	ds, source, closeDB, err := openDataSource()
	if err != nil {
		return err
	}
	defer closeDB()

	login = security.NormalizeLogin(login)
	if err := ds.SetEnabled(context.Background(), source, login, enabled); err != nil {
		if errors.Is(err, security.ErrUserNotFound) {
			return fmt.Errorf("user %s not found under %s", login, source)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	fmt.Printf("%s %s %s\n", checkMark, state, login)
	return nil
}

// openDataSource opens the configured SQLite user table directly.
func openDataSource() (*sqlite.DataSource, string, func(), error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return nil, "", nil, fmt.Errorf("user management needs the sqlite driver, configured: %s", cfg.Database.Driver)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, "", nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	source := userSource
	if source == "" {
		source = cfg.Security.DefaultSource
	}
	ds := sqlite.NewDataSource(db, hasher.NewBcrypt(cfg.Security.BcryptCost))
	return ds, source, func() { db.Close() }, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Print newline after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func promptNewPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no terminal to prompt on, pass --password")
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}
