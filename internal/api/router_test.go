package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/dvloznov/spendtrack/internal/jobs/inmemory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, apiKey string) (http.Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/spendtrack.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, jobStore)
	t.Cleanup(func() { _ = queue.Stop(context.Background()) })

	return NewRouter(Deps{
		Store:         store,
		Archive:       nopArchive{},
		Publisher:     queue,
		Jobs:          jobStore,
		Canceller:     queue,
		DefaultSource: "commbank",
		MaxUploadMB:   1,
		CORSOrigins:   []string{"http://localhost:3000"},
		APIKey:        apiKey,
		Log:           zerolog.Nop(),
	}), store
}

type nopArchive struct{}

func (nopArchive) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "file:///dev/null/" + name, err
}

func TestRouter_Routes(t *testing.T) {
	h, store := newTestRouter(t, "")
	ctx := context.Background()

	date, err := civil.ParseDate("2024-03-05")
	require.NoError(t, err)
	_, err = store.Insert(ctx, &domain.Transaction{
		Date:                date,
		Amount:              decimal.RequireFromString("-15.99"),
		OriginalDescription: "NETFLIX.COM",
		Classification:      domain.Classification{MerchantName: domain.StringPtr("Netflix")},
		ContentHash:         "hash-1",
		Source:              "commbank",
	})
	require.NoError(t, err)

	cases := []struct {
		method string
		target string
		body   string
		want   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/api/transactions/recurring", "", http.StatusOK},
		{http.MethodGet, "/api/transactions/recent", "", http.StatusOK},
		{http.MethodGet, "/api/transactions/raw?limit=10", "", http.StatusOK},
		{http.MethodGet, "/api/transactions/subscriptions?likely=true", "", http.StatusOK},
		{http.MethodGet, "/api/transactions/timeline?start_date=2024-01-01&end_date=2024-12-31", "", http.StatusOK},
		{http.MethodGet, "/api/transactions/timeline/categories?granularity=day", "", http.StatusOK},
		{http.MethodGet, "/api/spending/monthly?months=3", "", http.StatusOK},
		{http.MethodGet, "/api/merchants/count", "", http.StatusOK},
		{http.MethodGet, "/api/merchants/all", "", http.StatusOK},
		{http.MethodPost, "/api/categories", `{"name":"Streaming"}`, http.StatusCreated},
		{http.MethodGet, "/api/categories", "", http.StatusOK},
		{http.MethodPost, "/api/merchants/Netflix/categories/1", "", http.StatusCreated},
		{http.MethodGet, "/api/merchants/Netflix/categories", "", http.StatusOK},
		{http.MethodPost, "/api/merchants/categories/batch", `["Netflix"]`, http.StatusOK},
		{http.MethodDelete, "/api/merchants/Netflix/categories/1", "", http.StatusOK},
		{http.MethodDelete, "/api/categories/1", "", http.StatusOK},
		{http.MethodDelete, "/api/categories/1", "", http.StatusNotFound},
		{http.MethodGet, "/api/jobs", "", http.StatusOK},
		{http.MethodGet, "/api/jobs/missing", "", http.StatusNotFound},
		{http.MethodPost, "/api/jobs/missing/cancel", "", http.StatusNotFound},
		{http.MethodPut, "/api/categories", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		var body io.Reader
		if tc.body != "" {
			body = strings.NewReader(tc.body)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, body))
		assert.Equal(t, tc.want, rec.Code, "%s %s: %s", tc.method, tc.target, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestRouter_APIKeyAndCORS(t *testing.T) {
	h, _ := newTestRouter(t, "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Preflight requests carry no key.
	req = httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_UploadQueuesJob(t *testing.T) {
	h, _ := newTestRouter(t, "")

	var body strings.Builder
	body.WriteString("--b\r\nContent-Disposition: form-data; name=\"file\"; filename=\"s.csv\"\r\nContent-Type: text/csv\r\n\r\n")
	body.WriteString("01/02/2024,-5.00,CAFE,100.00\r\n")
	body.WriteString("\r\n--b--\r\n")

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/upload/westpac", strings.NewReader(body.String()))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"processing"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?source=westpac&status="+string(jobs.JobStatusPending), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}
