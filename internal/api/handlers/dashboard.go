package handlers

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/dvloznov/spendtrack/internal/analytics"
	"github.com/dvloznov/spendtrack/internal/api/middleware"
	"github.com/dvloznov/spendtrack/internal/apperr"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/rs/zerolog"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

type dashboardData struct {
	GeneratedAt   time.Time
	Months        int
	Recent        *domain.Transaction
	Subscriptions []analytics.Candidate
	Monthly       []domain.MonthlySpending
	Recurring     []domain.RecurringPair
	Merchants     []domain.MerchantCount
}

// DashboardHandler renders the HTML overview page.
type DashboardHandler struct {
	txs TransactionReader
	now func() time.Time
	log zerolog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(txs TransactionReader, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		txs: txs,
		now: time.Now,
		log: log,
	}
}

// ServeHTTP handles GET /
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, err := h.load(r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("render dashboard", err))
		return
	}

	// Render into a buffer so a template failure still yields a clean 500.
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, data); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("render dashboard", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *DashboardHandler) load(r *http.Request) (*dashboardData, error) {
	ctx := r.Context()
	now := h.now()
	data := &dashboardData{GeneratedAt: now, Months: defaultMonths}

	recent, err := h.txs.MostRecent(ctx)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		data.Recent = recent
	}

	expenses, err := h.txs.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}
	data.Subscriptions = analytics.FilterLikely(analytics.DetectRecurring(expenses))

	if data.Monthly, err = h.txs.MonthlySpending(ctx, monthWindowStart(now, defaultMonths)); err != nil {
		return nil, err
	}
	if data.Recurring, err = h.txs.RecurringPairs(ctx, topN); err != nil {
		return nil, err
	}
	if data.Merchants, err = h.txs.MerchantCounts(ctx, topN); err != nil {
		return nil, err
	}
	return data, nil
}
