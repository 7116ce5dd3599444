// Package api assembles the HTTP surface: routes, middleware and the job
// progress websocket.
package api

import (
	"net/http"

	"github.com/dvloznov/spendtrack/internal/api/events"
	"github.com/dvloznov/spendtrack/internal/api/handlers"
	"github.com/dvloznov/spendtrack/internal/api/middleware"
	"github.com/dvloznov/spendtrack/internal/jobs"
	"github.com/rs/zerolog"
)

// Store is the transaction and category store the handlers read from.
type Store interface {
	handlers.TransactionReader
	handlers.CategoryStore
}

// Deps holds everything the router wires into handlers.
type Deps struct {
	Store         Store
	Archive       handlers.Archiver
	Publisher     jobs.Publisher
	Jobs          jobs.JobStore
	Canceller     jobs.Canceller
	Hub           *events.Hub
	DefaultSource string
	MaxUploadMB   int64
	CORSOrigins   []string
	APIKey        string
	Log           zerolog.Logger
}

// NewRouter returns the application handler with middleware applied.
func NewRouter(d Deps) http.Handler {
	analytics := handlers.NewAnalyticsHandler(d.Store, d.Store, d.Log)
	transactions := handlers.NewTransactionsHandler(d.Store, d.Archive, d.Publisher, d.DefaultSource, d.MaxUploadMB, d.Log)
	categories := handlers.NewCategoriesHandler(d.Store, d.Log)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, d.Canceller, d.Log)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Dashboard
	mux.Handle("GET /{$}", handlers.NewDashboardHandler(d.Store, d.Log))

	// Transactions endpoints
	mux.HandleFunc("GET /api/transactions/recurring", analytics.RecurringTransactions)
	mux.HandleFunc("GET /api/transactions/recent", transactions.Recent)
	mux.HandleFunc("GET /api/transactions/raw", transactions.Raw)
	mux.HandleFunc("GET /api/transactions/subscriptions", analytics.Subscriptions)
	mux.HandleFunc("GET /api/transactions/timeline", analytics.Timeline)
	mux.HandleFunc("GET /api/transactions/timeline/categories", analytics.CategoryTimeline)
	mux.HandleFunc("POST /api/transactions/upload", transactions.Upload)
	mux.HandleFunc("POST /api/transactions/upload/{source}", transactions.Upload)
	mux.HandleFunc("GET /api/spending/monthly", analytics.MonthlySpending)

	// Merchants endpoints
	mux.HandleFunc("GET /api/merchants/count", analytics.MerchantCounts)
	mux.HandleFunc("GET /api/merchants/all", analytics.AllMerchants)
	mux.HandleFunc("POST /api/merchants/categories/batch", categories.Batch)
	mux.HandleFunc("GET /api/merchants/{name}/categories", categories.MerchantCategories)
	mux.HandleFunc("POST /api/merchants/{name}/categories/{id}", categories.AddMerchantCategory)
	mux.HandleFunc("DELETE /api/merchants/{name}/categories/{id}", categories.RemoveMerchantCategory)

	// Categories endpoints
	mux.HandleFunc("GET /api/categories", categories.List)
	mux.HandleFunc("POST /api/categories", categories.Create)
	mux.HandleFunc("DELETE /api/categories/{id}", categories.Delete)

	// Jobs endpoints
	mux.HandleFunc("GET /api/jobs", jobsHandler.List)
	mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.Get)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobsHandler.Cancel)
	if d.Hub != nil {
		mux.Handle("GET /api/ws/jobs", d.Hub)
	}

	return middleware.Chain(mux,
		middleware.Recovery(d.Log),
		middleware.RequestID,
		middleware.Logger(d.Log),
		middleware.CORS(d.CORSOrigins),
		middleware.APIKey(d.APIKey),
	)
}
