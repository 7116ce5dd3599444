package ingest

import (
	"context"
	"fmt"

	"github.com/dvloznov/spendtrack/internal/domain"
)

// Outcome is what happened to one CSV record.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeInserted
	OutcomeDuplicate
	OutcomeSkipped
	OutcomeFailed
)

// RowState holds the shared state across the steps for one record.
type RowState struct {
	Line   int
	Record []string
	Source string

	Row         Row
	Hash        string
	Transaction *domain.Transaction

	Outcome Outcome
}

// done reports whether a step has settled the outcome.
func (s *RowState) done() bool {
	return s.Outcome != OutcomePending
}

// Step is one stage of row ingestion.
type Step interface {
	Execute(ctx context.Context, state *RowState) error
}

// Pipeline runs steps in order until one fails or settles the outcome.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *RowState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		if state.done() {
			return nil
		}
	}
	return nil
}

// Step 1: ParseStep turns the raw record into a Row.
type ParseStep struct{}

func (ParseStep) Execute(ctx context.Context, state *RowState) error {
	row, err := ParseRecord(state.Line, state.Record)
	if err != nil {
		state.Outcome = OutcomeSkipped
		return err
	}
	state.Row = row
	return nil
}

// Step 2: HashStep computes the content hash.
type HashStep struct{}

func (HashStep) Execute(ctx context.Context, state *RowState) error {
	state.Hash = RowHash(state.Row)
	return nil
}

// Step 3: DedupStep stops before classification when the row is stored.
type DedupStep struct {
	Store Store
}

func (s DedupStep) Execute(ctx context.Context, state *RowState) error {
	exists, err := s.Store.Exists(ctx, state.Hash)
	if err != nil {
		state.Outcome = OutcomeFailed
		return err
	}
	if exists {
		state.Outcome = OutcomeDuplicate
	}
	return nil
}

// Step 4: ClassifyStep builds the transaction from the classifier's guess.
type ClassifyStep struct {
	Classifier Classifier
}

func (s ClassifyStep) Execute(ctx context.Context, state *RowState) error {
	c := s.Classifier.Classify(ctx, state.Row.Description)
	state.Transaction = &domain.Transaction{
		Date:                state.Row.Date,
		Amount:              state.Row.Amount,
		Balance:             state.Row.Balance,
		OriginalDescription: state.Row.Description,
		Classification:      c,
		ContentHash:         state.Hash,
		Source:              state.Source,
	}
	return nil
}

// Step 5: InsertStep stores the transaction. Losing a race with another
// writer of the same hash counts as a duplicate.
type InsertStep struct {
	Store Store
}

func (s InsertStep) Execute(ctx context.Context, state *RowState) error {
	inserted, err := s.Store.Insert(ctx, state.Transaction)
	if err != nil {
		state.Outcome = OutcomeFailed
		return err
	}
	if inserted {
		state.Outcome = OutcomeInserted
	} else {
		state.Outcome = OutcomeDuplicate
	}
	return nil
}

// NewRowPipeline creates the standard five-step row pipeline.
func NewRowPipeline(store Store, classifier Classifier) *Pipeline {
	return NewPipeline(
		ParseStep{},
		HashStep{},
		DedupStep{Store: store},
		ClassifyStep{Classifier: classifier},
		InsertStep{Store: store},
	)
}
