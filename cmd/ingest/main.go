package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/dvloznov/spendtrack/internal/app"
	"github.com/dvloznov/spendtrack/internal/config"
	"github.com/dvloznov/spendtrack/internal/ingest"
	"github.com/dvloznov/spendtrack/internal/logger"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	var (
		configPath = flag.String("config", "", "Path to a YAML or TOML config file")
		file       = flag.String("file", "", "Path of the statement CSV to ingest (required)")
		source     = flag.String("source", "", "Source tag recorded on every row (defaults to ingest.default_source)")
		db         = flag.String("db", "", "SQLite database path (overrides database.path)")
	)
	flag.Parse()

	if *file == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *db != "" {
		cfg.Database.Path = *db
	}
	if *source == "" {
		*source = cfg.Ingest.DefaultSource
	}
	configured, err := app.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build logger")
	}
	log = configured

	// Ctrl-C stops the sweep; rows already stored stay stored.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer a.Close()

	svc, err := a.Ingest(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ingestion service")
	}

	log.Info().Str("file", *file).Str("source", *source).Msg("Starting ingestion")

	res, err := svc.IngestFile(ctx, *file, *source, func(r ingest.Result) {
		if r.Processed%25 == 0 || r.Processed == r.Total {
			log.Info().Int("processed", r.Processed).Int("total", r.Total).Msg("Progress")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingestion completed: %d rows, %d new, %d duplicates, %d skipped, %d failed.\n",
		res.Total, res.Successful, res.Duplicates, res.Skipped, res.Failed)
}
