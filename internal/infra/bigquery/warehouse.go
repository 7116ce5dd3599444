// Package bigquery exports classified transactions from the local store
// into a BigQuery table for ad-hoc analysis.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Warehouse is the destination side of an export.
type Warehouse interface {
	// EnsureTable creates the destination table if it does not exist.
	EnsureTable(ctx context.Context) error

	// ExportedHashes returns the content hashes already in the table.
	ExportedHashes(ctx context.Context) (map[string]bool, error)

	// Insert streams rows into the table.
	Insert(ctx context.Context, rows []*TransactionRow) error

	// Close releases the underlying client.
	Close() error
}

const createTableDDL = "CREATE TABLE IF NOT EXISTS `%s.%s.%s` (" + `
	content_hash STRING NOT NULL,
	transaction_date DATE NOT NULL,
	amount NUMERIC NOT NULL,
	balance NUMERIC,
	original_description STRING NOT NULL,
	merchant_name STRING,
	transaction_type STRING,
	location STRING,
	currency STRING,
	card_suffix STRING,
	value_date DATE,
	source STRING,
	categories ARRAY<STRING>,
	created_ts TIMESTAMP NOT NULL,
	exported_ts TIMESTAMP NOT NULL
)
PARTITION BY transaction_date`

// BigQueryWarehouse is the concrete Warehouse backed by a BigQuery client.
type BigQueryWarehouse struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	tableID   string
}

// NewBigQueryWarehouse creates a client for projectID. Rows go to dataset.table.
func NewBigQueryWarehouse(ctx context.Context, projectID, datasetID, tableID string) (*BigQueryWarehouse, error) {
	if projectID == "" || datasetID == "" || tableID == "" {
		return nil, fmt.Errorf("NewBigQueryWarehouse: project, dataset and table are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryWarehouse: creating client: %w", err)
	}
	return &BigQueryWarehouse{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		tableID:   tableID,
	}, nil
}

// Close closes the BigQuery client connection.
func (w *BigQueryWarehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

func (w *BigQueryWarehouse) qualified() string {
	return fmt.Sprintf("`%s.%s.%s`", w.projectID, w.datasetID, w.tableID)
}

// EnsureTable implements Warehouse by running the DDL as a query job.
func (w *BigQueryWarehouse) EnsureTable(ctx context.Context) error {
	q := w.client.Query(fmt.Sprintf(createTableDDL, w.projectID, w.datasetID, w.tableID))
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("EnsureTable: running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("EnsureTable: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("EnsureTable: job error: %w", err)
	}
	return nil
}

// ExportedHashes implements Warehouse. A missing table yields an empty set.
func (w *BigQueryWarehouse) ExportedHashes(ctx context.Context) (map[string]bool, error) {
	q := w.client.Query("SELECT DISTINCT content_hash FROM " + w.qualified())
	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("ExportedHashes: query read: %w", err)
	}

	hashes := map[string]bool{}
	for {
		var row struct {
			ContentHash string `bigquery:"content_hash"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExportedHashes: iterating results: %w", err)
		}
		hashes[row.ContentHash] = true
	}
	return hashes, nil
}

// Insert implements Warehouse. The content hash doubles as the streaming
// insert ID so retried batches are deduplicated server-side.
func (w *BigQueryWarehouse) Insert(ctx context.Context, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		savers = append(savers, &bigquery.StructSaver{Struct: r, InsertID: r.ContentHash})
	}

	inserter := w.client.DatasetInProject(w.projectID, w.datasetID).Table(w.tableID).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("Insert: inserting rows: %w", err)
	}
	return nil
}

var _ Warehouse = (*BigQueryWarehouse)(nil)
