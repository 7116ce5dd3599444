package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dvloznov/spendtrack/internal/config"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
)

const usage = `Usage: migrate [-config FILE] [-db PATH] <command>

Commands:
  up        Apply all pending migrations
  down      Roll back every migration
  steps N   Apply N migrations (negative N rolls back)
  version   Print the current schema version
  force V   Mark version V as applied without running it (repairs a dirty schema)
`

func main() {
	log := logger.New()
	if err := run(context.Background(), os.Args[1:], os.Stdout, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, args []string, out io.Writer, log zerolog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	configPath := fs.String("config", "", "Path to a YAML or TOML config file")
	dbPath := fs.String("db", "", "SQLite database path (overrides database.path)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("a command is required")
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		path = cfg.Database.Path
	}

	db, err := sqlite.OpenDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := sqlite.NewMigrator(db)
	if err != nil {
		return err
	}

	log.Info().Str("path", path).Str("command", fs.Arg(0)).Msg("Running migrations")

	switch cmd := fs.Arg(0); cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps", "force":
		if fs.NArg() < 2 {
			return fmt.Errorf("%s requires a number", cmd)
		}
		n, convErr := strconv.Atoi(fs.Arg(1))
		if convErr != nil {
			return fmt.Errorf("%s: invalid number %q", cmd, fs.Arg(1))
		}
		if cmd == "steps" {
			err = m.Steps(n)
		} else {
			err = m.Force(n)
		}
	case "version":
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		err = nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Fprintln(out, "version: none")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "version: %d (dirty: %t)\n", version, dirty)
	}
	return nil
}
