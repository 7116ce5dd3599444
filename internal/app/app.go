// Package app wires configuration into the long-lived components shared by
// the server and the command-line tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dvloznov/spendtrack/internal/api"
	"github.com/dvloznov/spendtrack/internal/api/events"
	"github.com/dvloznov/spendtrack/internal/archive"
	"github.com/dvloznov/spendtrack/internal/classifier"
	"github.com/dvloznov/spendtrack/internal/config"
	infraBQ "github.com/dvloznov/spendtrack/internal/infra/bigquery"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/ingest"
	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/dvloznov/spendtrack/internal/jobs/inmemory"
	"github.com/dvloznov/spendtrack/internal/logger"
	"github.com/dvloznov/spendtrack/internal/notionsync"
	"github.com/rs/zerolog"
)

// notionRetries bounds rate-limit retries inside the Notion client.
const notionRetries = 3

// App owns the store and the lazily built services around it.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Store  *sqlite.Store

	ingest  *ingest.Service
	closers []func() error
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	return logger.NewWithOptions(logger.Options{Level: cfg.Level, Format: cfg.Format})
}

// New opens the store. Services that talk to external systems are built on
// first use so commands only need the credentials they exercise.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	store, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	log.Info().Str("path", cfg.Database.Path).Msg("Opened transaction store")

	return &App{
		Config:  cfg,
		Log:     log,
		Store:   store,
		closers: []func() error{store.Close},
	}, nil
}

// Ingest returns the ingestion service, building the classifier on first call.
func (a *App) Ingest(ctx context.Context) (*ingest.Service, error) {
	if a.ingest != nil {
		return a.ingest, nil
	}
	cls, err := classifier.NewFromConfig(ctx, a.Config.Classifier, a.Log)
	if err != nil {
		return nil, fmt.Errorf("app: classifier: %w", err)
	}
	a.ingest = ingest.NewService(a.Store, cls, a.Log.With().Str("component", "ingest").Logger(),
		ingest.WithWorkers(a.Config.Ingest.Workers))
	return a.ingest, nil
}

// Archive builds the configured upload archive.
func (a *App) Archive(ctx context.Context) (archive.Store, error) {
	ar, closeFn, err := archive.NewFromConfig(ctx, a.Config.Archive)
	if err != nil {
		return nil, fmt.Errorf("app: archive: %w", err)
	}
	a.closers = append(a.closers, closeFn)
	return ar, nil
}

// Exporter builds the BigQuery exporter over the store.
func (a *App) Exporter(ctx context.Context) (*infraBQ.Exporter, error) {
	bq := a.Config.BigQuery
	if bq.ProjectID == "" {
		return nil, errors.New("app: bigquery.project_id is not configured")
	}
	wh, err := infraBQ.NewBigQueryWarehouse(ctx, bq.ProjectID, bq.Dataset, bq.Table)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, wh.Close)
	return infraBQ.NewExporter(a.Store, wh, 0, a.Log.With().Str("component", "bigquery").Logger()), nil
}

// Syncer builds the Notion subscription mirror.
func (a *App) Syncer(dryRun bool) (*notionsync.Syncer, error) {
	n := a.Config.Notion
	if n.Token == "" || n.DatabaseID == "" {
		return nil, errors.New("app: notion.token and notion.database_id are required")
	}
	client := notionsync.NewClient(n.Token, notionRetries)
	return notionsync.NewSyncer(client, n.DatabaseID, dryRun, a.Log.With().Str("component", "notion").Logger()), nil
}

// Server is the HTTP surface with its background job workers.
type Server struct {
	Handler  http.Handler
	Queue    *inmemory.Queue
	JobStore *inmemory.Store
	Hub      *events.Hub
}

// Server builds the router, the job queue and the websocket hub, and starts
// the job workers. Stop them with Shutdown.
func (a *App) Server(ctx context.Context) (*Server, error) {
	svc, err := a.Ingest(ctx)
	if err != nil {
		return nil, err
	}
	ar, err := a.Archive(ctx)
	if err != nil {
		return nil, err
	}

	jobLog := a.Log.With().Str("component", "jobs").Logger()
	hub := events.NewHub(a.Log.With().Str("component", "ws").Logger())
	jobStore := inmemory.NewStore()
	jobStore.Observe(hub.PublishJob)

	queue := inmemory.NewQueue(a.Config.Jobs.BufferSize, jobStore,
		inmemory.WithWorkers(a.Config.Jobs.Workers),
		inmemory.WithMaxRetries(a.Config.Jobs.MaxRetries),
		inmemory.WithLogger(jobLog),
	)
	if err := queue.Start(ctx, jobs.NewIngestHandler(svc, ar, jobStore, jobLog)); err != nil {
		return nil, fmt.Errorf("app: starting job queue: %w", err)
	}

	srv := a.Config.Server
	handler := api.NewRouter(api.Deps{
		Store:         a.Store,
		Archive:       ar,
		Publisher:     queue,
		Jobs:          jobStore,
		Canceller:     queue,
		Hub:           hub,
		DefaultSource: a.Config.Ingest.DefaultSource,
		MaxUploadMB:   srv.MaxUploadMB,
		CORSOrigins:   srv.CORSOrigins,
		APIKey:        srv.APIKey,
		Log:           a.Log,
	})

	return &Server{Handler: handler, Queue: queue, JobStore: jobStore, Hub: hub}, nil
}

// Shutdown stops the job workers and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.Queue.Stop(ctx), s.Hub.Close())
}

// Close releases everything New and the builders opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
