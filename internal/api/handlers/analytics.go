package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/spendtrack/internal/analytics"
	"github.com/dvloznov/spendtrack/internal/api/middleware"
	"github.com/dvloznov/spendtrack/internal/apperr"
	"github.com/rs/zerolog"
)

// AnalyticsHandler serves the aggregate read endpoints.
type AnalyticsHandler struct {
	txs  TransactionReader
	cats CategoryStore
	now  func() time.Time
	log  zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(txs TransactionReader, cats CategoryStore, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		txs:  txs,
		cats: cats,
		now:  time.Now,
		log:  log,
	}
}

// RecurringTransactions handles GET /api/transactions/recurring
func (h *AnalyticsHandler) RecurringTransactions(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.txs.RecurringPairs(r.Context(), topN)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("list recurring transactions", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, pairs)
}

// MerchantCounts handles GET /api/merchants/count
func (h *AnalyticsHandler) MerchantCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.txs.MerchantCounts(r.Context(), topN)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("count merchants", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, counts)
}

// AllMerchants handles GET /api/merchants/all
func (h *AnalyticsHandler) AllMerchants(w http.ResponseWriter, r *http.Request) {
	counts, err := h.txs.AllMerchants(r.Context())
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("list merchants", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, counts)
}

// MonthlySpending handles GET /api/spending/monthly?months=6
func (h *AnalyticsHandler) MonthlySpending(w http.ResponseWriter, r *http.Request) {
	const op = "get monthly spending"

	months, err := parseInt(op, r, "months", defaultMonths, 1, maxMonths)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	spending, err := h.txs.MonthlySpending(r.Context(), monthWindowStart(h.now(), months))
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, spending)
}

// Subscriptions handles GET /api/transactions/subscriptions[?likely=true]
func (h *AnalyticsHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.subscriptions(r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, candidates)
}

func (h *AnalyticsHandler) subscriptions(r *http.Request) ([]analytics.Candidate, error) {
	txs, err := h.txs.ListExpenses(r.Context())
	if err != nil {
		return nil, apperr.Internal("detect subscriptions", err)
	}
	candidates := analytics.DetectRecurring(txs)
	if r.URL.Query().Get("likely") == "true" {
		candidates = analytics.FilterLikely(candidates)
	}
	return candidates, nil
}

func granularity(op string, r *http.Request) (analytics.Granularity, error) {
	q := r.URL.Query()
	raw := q.Get("granularity")
	if raw == "" {
		raw = q.Get("view_mode")
	}
	g, err := analytics.ParseGranularity(raw)
	if err != nil {
		return "", apperr.Invalid(op, "Invalid granularity: use year, month, day or hour")
	}
	return g, nil
}

// Timeline handles GET /api/transactions/timeline
func (h *AnalyticsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	const op = "build timeline"

	g, err := granularity(op, r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	start, end, err := dateRange(op, r, h.now())
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	txs, err := h.txs.ListByDateRange(r.Context(), start, end)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, analytics.BuildTimeline(txs, g))
}

// CategoryTimeline handles GET /api/transactions/timeline/categories
func (h *AnalyticsHandler) CategoryTimeline(w http.ResponseWriter, r *http.Request) {
	const op = "build category timeline"

	g, err := granularity(op, r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	start, end, err := dateRange(op, r, h.now())
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	ctx := r.Context()
	txs, err := h.txs.ListByDateRange(ctx, start, end)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	links, err := h.cats.AllMerchantCategories(ctx)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, analytics.BuildCategoryTimeline(txs, links, g))
}
