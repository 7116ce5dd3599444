package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/spendtrack/internal/api/middleware"
	"github.com/dvloznov/spendtrack/internal/apperr"
	"github.com/dvloznov/spendtrack/internal/archive"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/ingest"
	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Archiver stores uploaded files. It is satisfied by archive.Store.
type Archiver interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
}

// TransactionsHandler handles transaction listing and statement uploads.
type TransactionsHandler struct {
	txs           TransactionReader
	archive       Archiver
	publisher     jobs.Publisher
	defaultSource string
	maxUpload     int64
	now           func() time.Time
	log           zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler. maxUploadMB
// bounds the multipart body size.
func NewTransactionsHandler(txs TransactionReader, ar Archiver, publisher jobs.Publisher, defaultSource string, maxUploadMB int64, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		txs:           txs,
		archive:       ar,
		publisher:     publisher,
		defaultSource: defaultSource,
		maxUpload:     maxUploadMB << 20,
		now:           time.Now,
		log:           log,
	}
}

// Recent handles GET /api/transactions/recent
func (h *TransactionsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	tx, err := h.txs.MostRecent(r.Context())
	if errors.Is(err, sqlite.ErrNotFound) {
		middleware.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("get recent transaction", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// Raw handles GET /api/transactions/raw?limit=1000&offset=0
func (h *TransactionsHandler) Raw(w http.ResponseWriter, r *http.Request) {
	const op = "list transactions"

	limit, err := parseInt(op, r, "limit", defaultRawLimit, 1, maxRawLimit)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	offset, err := parseInt(op, r, "offset", 0, 0, int(^uint(0)>>1))
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	ctx := r.Context()
	txs, err := h.txs.ListRaw(ctx, limit, offset)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	total, err := h.txs.CountTransactions(ctx)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"pagination": map[string]int{
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
	})
}

// UploadReceipt is returned as soon as an upload is archived and queued.
type UploadReceipt struct {
	Status               string          `json:"status"`
	Filename             string          `json:"filename"`
	EstimatedRows        int             `json:"estimated_rows"`
	EstimatedTimeMinutes decimal.Decimal `json:"estimated_time_minutes"`
	JobID                string          `json:"job_id"`
}

// Upload handles POST /api/transactions/upload and /api/transactions/upload/{source}
func (h *TransactionsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	const op = "upload statement"
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "File too large"))
			return
		}
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "Missing multipart field \"file\""))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "Only CSV files are supported"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "Failed to read uploaded file"))
		return
	}

	rows, err := ingest.CountRows(bytes.NewReader(data))
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "File is not a readable CSV"))
		return
	}

	uri, err := h.archive.Put(ctx, archive.ObjectName(filename, h.now()), bytes.NewReader(data))
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}

	source := r.PathValue("source")
	if source == "" {
		source = h.defaultSource
	}

	job := &jobs.IngestJob{
		Filename:   filename,
		Source:     source,
		ArchiveURI: uri,
		Progress:   jobs.Progress{TotalRows: rows},
	}
	if err := h.publisher.PublishIngest(ctx, job); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}

	// The request logger ties the job to the request ID.
	log := requestLog(r, h.log)
	log.Info().
		Str("job_id", job.JobID).
		Str("filename", filename).
		Str("source", source).
		Str("archive_uri", uri).
		Int("rows", rows).
		Msg("Statement queued for ingestion")

	middleware.WriteJSON(w, http.StatusAccepted, UploadReceipt{
		Status:               "processing",
		Filename:             filename,
		EstimatedRows:        rows,
		EstimatedTimeMinutes: ingest.EstimateMinutes(rows),
		JobID:                job.JobID,
	})
}
