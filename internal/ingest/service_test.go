package ingest_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockClassifier is a Classifier with a Func field and a call counter.
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, description string) domain.Classification
	calls        atomic.Int32
}

func (m *MockClassifier) Classify(ctx context.Context, description string) domain.Classification {
	m.calls.Add(1)
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, description)
	}
	return domain.Classification{
		MerchantName:    domain.StringPtr(strings.Fields(description)[0]),
		TransactionType: domain.StringPtr("Merchant"),
	}
}

// MockStore is a Store with Func fields.
type MockStore struct {
	ExistsFunc func(ctx context.Context, hash string) (bool, error)
	InsertFunc func(ctx context.Context, tx *domain.Transaction) (bool, error)
}

func (m *MockStore) Exists(ctx context.Context, hash string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, hash)
	}
	return false, nil
}

func (m *MockStore) Insert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx)
	}
	return true, nil
}

const statement = `26/10/2024,'-7.73','UBER* TRIP','+232.41'
25/10/2024,'-16.70','EZI*TPC Fitzroy MELBOURNE AU AUS Card xx4321 Value Date: 24/10/2024','+240.14'
24/10/2024,'+1500.00','Salary ACME PTY LTD','+256.84'
`

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestReader_Idempotent(t *testing.T) {
	store := openStore(t)
	classifier := &MockClassifier{}
	svc := ingest.NewService(store, classifier, zerolog.Nop())
	ctx := context.Background()

	first, err := svc.IngestReader(ctx, strings.NewReader(statement), "commbank", nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Total: 3, Processed: 3, Successful: 3}, first)

	second, err := svc.IngestReader(ctx, strings.NewReader(statement), "commbank", nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Total: 3, Processed: 3, Duplicates: 3}, second)

	n, err := store.CountTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Duplicates are detected before any classification call.
	assert.Equal(t, int32(3), classifier.calls.Load())
}

func TestIngestReader_StoresParsedFields(t *testing.T) {
	store := openStore(t)
	svc := ingest.NewService(store, &MockClassifier{}, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.IngestReader(ctx, strings.NewReader(statement), "commbank", nil)
	require.NoError(t, err)

	tx, err := store.MostRecent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-10-26", tx.Date.String())
	assert.Equal(t, "-7.73", tx.Amount.String())
	require.NotNil(t, tx.Balance)
	assert.Equal(t, "232.41", tx.Balance.String())
	assert.Equal(t, "UBER* TRIP", tx.OriginalDescription)
	assert.Equal(t, "UBER*", tx.Merchant())
	assert.Equal(t, "commbank", tx.Source)
	assert.Equal(t, ingest.ContentHash(tx.Date, "UBER* TRIP", tx.Amount), tx.ContentHash)
}

func TestIngestReader_HeaderAndBadRows(t *testing.T) {
	input := `Date,Amount,Description,Balance
not-a-date,-1.00,COFFEE,+1.00
01/02/2024,abc,COFFEE,+1.00
01/02/2024,-4.50,,+1.00
01/02/2024,-4.50,COFFEE,+1.00
`
	svc := ingest.NewService(&MockStore{}, &MockClassifier{}, zerolog.Nop())

	res, err := svc.IngestReader(context.Background(), strings.NewReader(input), "commbank", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Successful)
}

func TestIngestReader_StoreErrorsAreCounted(t *testing.T) {
	store := &MockStore{
		InsertFunc: func(ctx context.Context, tx *domain.Transaction) (bool, error) {
			if strings.HasPrefix(tx.OriginalDescription, "EZI") {
				return false, errors.New("disk full")
			}
			return true, nil
		},
	}
	svc := ingest.NewService(store, &MockClassifier{}, zerolog.Nop())

	res, err := svc.IngestReader(context.Background(), strings.NewReader(statement), "commbank", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
}

func TestIngestReader_Progress(t *testing.T) {
	svc := ingest.NewService(&MockStore{}, &MockClassifier{}, zerolog.Nop())

	var seen []ingest.Result
	_, err := svc.IngestReader(context.Background(), strings.NewReader(statement), "commbank", func(r ingest.Result) {
		seen = append(seen, r)
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	for i, r := range seen {
		assert.Equal(t, i+1, r.Processed)
		assert.Equal(t, 3, r.Total)
	}
}

func TestIngestReader_ConcurrentWorkers(t *testing.T) {
	store := openStore(t)
	var mu sync.Mutex
	order := []string{}
	classifier := &MockClassifier{
		ClassifyFunc: func(ctx context.Context, description string) domain.Classification {
			mu.Lock()
			order = append(order, description)
			mu.Unlock()
			return domain.Classification{MerchantName: domain.StringPtr("M")}
		},
	}
	svc := ingest.NewService(store, classifier, zerolog.Nop(), ingest.WithWorkers(4))

	doubled := statement + statement
	res, err := svc.IngestReader(context.Background(), strings.NewReader(doubled), "commbank", nil)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 3, res.Successful)
	assert.Equal(t, 3, res.Duplicates)

	n, err := store.CountTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := ingest.NewService(&MockStore{}, &MockClassifier{}, zerolog.Nop())
	_, err := svc.IngestReader(ctx, strings.NewReader(statement), "commbank", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCountRowsAndEstimate(t *testing.T) {
	n, err := ingest.CountRows(strings.NewReader("date,amount,description,balance\n" + statement))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "0.1", ingest.EstimateMinutes(3).String())
	assert.Equal(t, "1", ingest.EstimateMinutes(30).String())
	assert.Equal(t, "3.4", ingest.EstimateMinutes(101).String())
	assert.True(t, ingest.EstimateMinutes(0).IsZero())
}
