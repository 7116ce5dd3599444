package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dvloznov/spendtrack/internal/app"
	"github.com/dvloznov/spendtrack/internal/config"
	"github.com/dvloznov/spendtrack/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	// Ctrl-C cancels the running command; rows already stored stay stored.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, logger.New()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// run executes one command line against a fresh App and closes it afterwards.
func run(ctx context.Context, args []string, out io.Writer, log zerolog.Logger) error {
	c := &cli{log: log}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	dbPath     string

	log zerolog.Logger
	app *app.App
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spendtrack",
		Short: "Inspect and maintain the spendtrack transaction store",
		Long: `spendtrack works directly against the local transaction store.

Examples:
  spendtrack ingest statement.csv --source commbank
  spendtrack subscriptions --likely
  spendtrack timeline --start 2024-01-01 --granularity month
  spendtrack sql "SELECT merchant_name, COUNT(*) FROM transactions GROUP BY 1"
  spendtrack categories link "NETFLIX" 3`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML or TOML config file")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides database.path)")

	root.AddCommand(
		c.ingestCmd(),
		c.subscriptionsCmd(),
		c.timelineCmd(),
		c.sqlCmd(),
		c.categoriesCmd(),
		c.exportCmd(),
		c.syncCmd(),
	)
	return root
}

// open loads configuration and opens the store before any subcommand runs.
func (c *cli) open(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.Database.Path = c.dbPath
	}

	// Tables go to stdout, so logs go to stderr.
	log, err := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: os.Stderr})
	if err != nil {
		return err
	}
	c.log = log

	ctx := logger.WithContext(cmd.Context(), log)
	cmd.SetContext(ctx)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	if err := c.app.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close store")
	}
}
