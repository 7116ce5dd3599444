// Package ingest loads bank-statement CSV files into the transaction store,
// classifying each new row on the way in.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Classifier turns a raw description into a best-effort classification. It
// must not fail; degraded guesses are still guesses.
type Classifier interface {
	Classify(ctx context.Context, description string) domain.Classification
}

// Store is the persistence the sweep needs.
type Store interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Insert(ctx context.Context, tx *domain.Transaction) (bool, error)
}

// Result summarizes one sweep.
type Result struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// ProgressFunc is called after every row with the running totals.
type ProgressFunc func(Result)

// Service runs ingestion sweeps.
type Service struct {
	pipeline *Pipeline
	log      zerolog.Logger
	workers  int
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets how many rows are classified concurrently. One keeps
// strict file order.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService creates a Service over store and classifier.
func NewService(store Store, classifier Classifier, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		pipeline: NewRowPipeline(store, classifier),
		log:      log,
		workers:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestFile opens path and ingests it.
func (s *Service) IngestFile(ctx context.Context, path, source string, progress ProgressFunc) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("IngestFile: %w", err)
	}
	defer f.Close()
	return s.IngestReader(ctx, f, source, progress)
}

// IngestReader ingests every record in r. Row-level problems are counted in
// the result and never abort the sweep; only a cancelled context or an
// unreadable stream returns an error.
func (s *Service) IngestReader(ctx context.Context, r io.Reader, source string, progress ProgressFunc) (Result, error) {
	states, err := s.readStates(r, source)
	if err != nil {
		return Result{}, err
	}

	var (
		mu  sync.Mutex
		res = Result{Total: len(states)}
	)
	record := func(st *RowState) {
		mu.Lock()
		defer mu.Unlock()
		res.Processed++
		switch st.Outcome {
		case OutcomeInserted:
			res.Successful++
		case OutcomeDuplicate:
			res.Duplicates++
		case OutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
		if progress != nil {
			progress(res)
		}
	}

	log := s.log.With().Str("source", source).Int("rows", len(states)).Logger()
	log.Info().Int("workers", s.workers).Msg("ingest started")

	if s.workers <= 1 {
		for _, st := range states {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			s.processRow(ctx, st)
			record(st)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, st := range states {
			st := st
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				s.processRow(gctx, st)
				record(st)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	log.Info().
		Int("successful", res.Successful).
		Int("duplicates", res.Duplicates).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("ingest finished")
	return res, nil
}

func (s *Service) readStates(r io.Reader, source string) ([]*RowState, error) {
	csvr := newReader(r)
	var states []*RowState
	for line := 1; ; line++ {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// Keep the line so it is counted as skipped.
				states = append(states, &RowState{Line: line, Source: source})
				continue
			}
			return nil, fmt.Errorf("IngestReader: read line %d: %w", line, err)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		states = append(states, &RowState{Line: line, Record: rec, Source: source})
	}
	return states, nil
}

func (s *Service) processRow(ctx context.Context, st *RowState) {
	err := s.pipeline.Execute(ctx, st)
	if err == nil {
		if st.Outcome == OutcomeDuplicate {
			s.log.Debug().Int("line", st.Line).Str("hash", st.Hash).Msg("duplicate row")
		}
		return
	}

	switch {
	case errors.Is(err, ErrUnparseable):
		st.Outcome = OutcomeSkipped
		s.log.Warn().Err(err).Int("line", st.Line).Msg("skipping row")
	default:
		st.Outcome = OutcomeFailed
		s.log.Error().Err(err).Int("line", st.Line).Str("hash", st.Hash).Msg("failed to store row")
	}
}
