package bigquery

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/rs/zerolog"
)

const defaultBatchSize = 500

// Source is the local side of an export.
type Source interface {
	ListRaw(ctx context.Context, limit, offset int) ([]*domain.Transaction, error)
	AllMerchantCategories(ctx context.Context) (map[string][]domain.Category, error)
}

// ExportResult summarizes one export run.
type ExportResult struct {
	Scanned  int `json:"scanned"`
	Exported int `json:"exported"`
	Existing int `json:"existing"`
}

// Exporter copies transactions that are not yet in the warehouse.
type Exporter struct {
	source    Source
	warehouse Warehouse
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewExporter wires a source to a warehouse. batchSize <= 0 uses the default.
func NewExporter(source Source, warehouse Warehouse, batchSize int, log zerolog.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Exporter{
		source:    source,
		warehouse: warehouse,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// Export runs the export. It is idempotent: rows whose content hash is
// already in the warehouse are skipped.
//
// Step 1: ensure the destination table exists.
// Step 2: load the set of exported hashes and the category index.
// Step 3: page through the store and insert unexported rows batch by batch.
func (e *Exporter) Export(ctx context.Context) (ExportResult, error) {
	var res ExportResult

	if err := e.warehouse.EnsureTable(ctx); err != nil {
		return res, fmt.Errorf("Export: %w", err)
	}

	exported, err := e.warehouse.ExportedHashes(ctx)
	if err != nil {
		return res, fmt.Errorf("Export: %w", err)
	}
	categories, err := e.source.AllMerchantCategories(ctx)
	if err != nil {
		return res, fmt.Errorf("Export: loading categories: %w", err)
	}

	exportedAt := e.now()
	for offset := 0; ; offset += e.batchSize {
		page, err := e.source.ListRaw(ctx, e.batchSize, offset)
		if err != nil {
			return res, fmt.Errorf("Export: listing transactions at offset %d: %w", offset, err)
		}

		rows := make([]*TransactionRow, 0, len(page))
		for _, tx := range page {
			res.Scanned++
			if exported[tx.ContentHash] {
				res.Existing++
				continue
			}
			rows = append(rows, RowFromTransaction(tx, categories[tx.Merchant()], exportedAt))
			exported[tx.ContentHash] = true
		}

		if err := e.warehouse.Insert(ctx, rows); err != nil {
			return res, fmt.Errorf("Export: %w", err)
		}
		res.Exported += len(rows)
		e.log.Debug().Int("offset", offset).Int("rows", len(rows)).Msg("exported batch")

		if len(page) < e.batchSize {
			break
		}
	}

	e.log.Info().
		Int("scanned", res.Scanned).
		Int("exported", res.Exported).
		Int("existing", res.Existing).
		Msg("bigquery export finished")
	return res, nil
}
