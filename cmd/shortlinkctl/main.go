// Command shortlinkctl is the operator CLI: it opens the configured store
// directly and runs index backfills, listings and enable/disable changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-shortlink-backend/internal/app"
	"github.com/tbourn/go-shortlink-backend/internal/config"
	"github.com/tbourn/go-shortlink-backend/internal/sysutil"
)

// cli carries the global flags and the app opened for the running command.
type cli struct {
	backend string
	dbPath  string
	asJSON  bool
	verbose bool

	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "shortlinkctl",
		Short: "Operate a shortlink store",
		Long: `shortlinkctl talks to the same store the server uses, configured from the
environment (and an optional .env file). Flags override the environment.

Examples:
  # Rebuild the ordered index even if it already has entries
  shortlinkctl backfill --force

  # Page through links, newest first
  shortlinkctl list --limit 20
  shortlinkctl list --limit 20 --cursor AQAYMz7p0iLgAGJEZTRr

  # Inspect and toggle a link
  shortlinkctl show promo --logs 5
  shortlinkctl disable promo`,
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
	}

	root.PersistentFlags().StringVar(&c.backend, "backend", "", "Store backend: sqlite|postgres|redis (default $STORE_BACKEND)")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite file path (default $DB_PATH)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Print JSON instead of a table")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		c.backfillCmd(),
		c.listCmd(),
		c.showCmd(),
		c.setEnabledCmd("disable", false),
		c.setEnabledCmd("enable", true),
	)
	// Post-run hooks are skipped when RunE fails, so the store is closed here.
	for _, sub := range root.Commands() {
		run := sub.RunE
		sub.RunE = func(cmd *cobra.Command, args []string) (err error) {
			defer func() { err = errors.Join(err, c.close(cmd.Context())) }()
			return run(cmd, args)
		}
	}
	return root
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level := cfg.LogLevel
	if c.verbose {
		level = "debug"
	}
	sysutil.SetupLogger(level, true, cmd.ErrOrStderr())

	cfg.Store.Backend = sysutil.FirstNonEmpty(c.backend, cfg.Store.Backend)
	cfg.Store.DBPath = sysutil.FirstNonEmpty(c.dbPath, cfg.Store.DBPath)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close(ctx context.Context) error {
	if c.app == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := c.app.Close(ctx)
	c.app = nil
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
