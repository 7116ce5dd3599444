package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/dvloznov/spendtrack/internal/ingest"
	"github.com/rs/zerolog"
)

// Ingester runs one ingestion sweep over a reader.
type Ingester interface {
	IngestReader(ctx context.Context, r io.Reader, source string, progress ingest.ProgressFunc) (ingest.Result, error)
}

// Opener reads an archived upload back.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ProgressFromResult converts sweep counters into job counters.
func ProgressFromResult(r ingest.Result) Progress {
	return Progress{
		TotalRows:     r.Total,
		ProcessedRows: r.Processed,
		Successful:    r.Successful,
		Duplicates:    r.Duplicates,
		Skipped:       r.Skipped,
		Failed:        r.Failed,
	}
}

// NewIngestHandler returns the handler that processes IngestJobs: it opens
// the archived file, runs the sweep and records progress after every row.
// Retried jobs re-run the whole file; already stored rows count as duplicates.
func NewIngestHandler(ingester Ingester, opener Opener, store JobStore, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		ij, ok := job.(*IngestJob)
		if !ok {
			return fmt.Errorf("ingest handler: unexpected job type %s", job.GetType())
		}

		rc, err := opener.Open(ctx, ij.ArchiveURI)
		if err != nil {
			return fmt.Errorf("ingest handler: open %s: %w", ij.ArchiveURI, err)
		}
		defer rc.Close()

		jobLog := log.With().Str("job_id", ij.JobID).Str("filename", ij.Filename).Logger()
		res, err := ingester.IngestReader(ctx, rc, ij.Source, func(r ingest.Result) {
			ij.Progress = ProgressFromResult(r)
			if store == nil {
				return
			}
			if err := store.UpdateProgress(ctx, ij.JobID, ij.Progress); err != nil {
				jobLog.Warn().Err(err).Msg("failed to record job progress")
			}
		})
		ij.Progress = ProgressFromResult(res)
		if err != nil {
			return fmt.Errorf("ingest handler: %w", err)
		}

		jobLog.Info().
			Int("successful", res.Successful).
			Int("duplicates", res.Duplicates).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("ingest job finished")
		return nil
	}
}
