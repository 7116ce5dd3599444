package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statementCSV = "Date,Amount,Description,Balance\n" +
	"01/02/2024,-5.00,CAFE SYDNEY,100.00\n" +
	"02/02/2024,-6.00,BAR SYDNEY,94.00\n"

func newTransactions(store *MockStore, ar *MockArchiver, pub *MockPublisher) *TransactionsHandler {
	h := NewTransactionsHandler(store, ar, pub, "commbank", 1, zerolog.Nop())
	h.now = func() time.Time { return fixedNow }
	return h
}

func uploadRequest(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTransactions_Recent(t *testing.T) {
	store := &MockStore{}
	h := newTransactions(store, &MockArchiver{}, &MockPublisher{})

	rec := serve(h.Recent, http.MethodGet, "/api/transactions/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	store.MostRecentFunc = func(ctx context.Context) (*domain.Transaction, error) {
		return expense(7, "2024-06-01", "-9.50", "Cafe"), nil
	}
	rec = serve(h.Recent, http.MethodGet, "/api/transactions/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	var tx map[string]interface{}
	decodeBody(t, rec, &tx)
	assert.EqualValues(t, 7, tx["id"])
	assert.Equal(t, "2024-06-01", tx["date"])
	assert.Equal(t, -9.5, tx["amount"])
	assert.Equal(t, "Cafe", tx["merchant_name"])

	store.MostRecentFunc = func(ctx context.Context) (*domain.Transaction, error) {
		return nil, errors.New("disk I/O error")
	}
	rec = serve(h.Recent, http.MethodGet, "/api/transactions/recent")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTransactions_RawPagination(t *testing.T) {
	var gotLimit, gotOffset int
	store := &MockStore{
		ListRawFunc: func(ctx context.Context, limit, offset int) ([]*domain.Transaction, error) {
			gotLimit, gotOffset = limit, offset
			return []*domain.Transaction{expense(1, "2024-06-01", "-1.50", "Cafe")}, nil
		},
		CountFunc: func(ctx context.Context) (int, error) { return 42, nil },
	}
	h := newTransactions(store, &MockArchiver{}, &MockPublisher{})

	rec := serve(h.Raw, http.MethodGet, "/api/transactions/raw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, gotLimit)
	assert.Equal(t, 0, gotOffset)

	rec = serve(h.Raw, http.MethodGet, "/api/transactions/raw?limit=5&offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Transactions []map[string]interface{} `json:"transactions"`
		Pagination   map[string]int           `json:"pagination"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Transactions, 1)
	assert.Equal(t, map[string]int{"total": 42, "limit": 5, "offset": 10}, body.Pagination)

	rec = serve(h.Raw, http.MethodGet, "/api/transactions/raw?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(h.Raw, http.MethodGet, "/api/transactions/raw?offset=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactions_Upload(t *testing.T) {
	ar := &MockArchiver{}
	pub := &MockPublisher{}
	h := newTransactions(&MockStore{}, ar, pub)

	rec := httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/transactions/upload", "statement.csv", statementCSV))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"status": "processing",
		"filename": "statement.csv",
		"estimated_rows": 2,
		"estimated_time_minutes": 0.1,
		"job_id": "job-1"
	}`, rec.Body.String())

	assert.True(t, strings.HasPrefix(ar.Name, "2024-06-15/"), ar.Name)
	assert.True(t, strings.HasSuffix(ar.Name, "-statement.csv"), ar.Name)
	assert.Equal(t, statementCSV, ar.Body)

	require.Len(t, pub.Jobs, 1)
	job := pub.Jobs[0]
	assert.Equal(t, "commbank", job.Source)
	assert.Equal(t, "statement.csv", job.Filename)
	assert.Equal(t, "file:///archive/"+ar.Name, job.ArchiveURI)
	assert.Equal(t, 2, job.Progress.TotalRows)
}

func TestTransactions_UploadWithSource(t *testing.T) {
	pub := &MockPublisher{}
	h := newTransactions(&MockStore{}, &MockArchiver{}, pub)

	req := uploadRequest(t, "/api/transactions/upload/westpac", "march.CSV", statementCSV)
	req.SetPathValue("source", "westpac")
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.Jobs, 1)
	assert.Equal(t, "westpac", pub.Jobs[0].Source)
}

func TestTransactions_UploadRejects(t *testing.T) {
	t.Run("not csv", func(t *testing.T) {
		pub := &MockPublisher{}
		rec := httptest.NewRecorder()
		newTransactions(&MockStore{}, &MockArchiver{}, pub).Upload(rec, uploadRequest(t, "/api/transactions/upload", "statement.pdf", "%PDF"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Only CSV files are supported", errorMessage(t, rec))
		assert.Empty(t, pub.Jobs)
	})

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/transactions/upload", strings.NewReader("x"))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		newTransactions(&MockStore{}, &MockArchiver{}, &MockPublisher{}).Upload(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := strings.Repeat("01/02/2024,-5.00,CAFE,1.00\n", 50000)
		rec := httptest.NewRecorder()
		newTransactions(&MockStore{}, &MockArchiver{}, &MockPublisher{}).Upload(rec, uploadRequest(t, "/api/transactions/upload", "big.csv", big))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "File too large", errorMessage(t, rec))
	})

	t.Run("archive failure", func(t *testing.T) {
		pub := &MockPublisher{}
		rec := httptest.NewRecorder()
		newTransactions(&MockStore{}, &MockArchiver{Err: errors.New("bucket missing")}, pub).Upload(rec, uploadRequest(t, "/api/transactions/upload", "s.csv", statementCSV))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to upload statement", errorMessage(t, rec))
		assert.Empty(t, pub.Jobs)
	})

	t.Run("queue failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTransactions(&MockStore{}, &MockArchiver{}, &MockPublisher{Err: errors.New("queue is closed")}).Upload(rec, uploadRequest(t, "/api/transactions/upload", "s.csv", statementCSV))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
