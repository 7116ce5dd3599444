// Package handlers implements the HTTP query surface and upload endpoint.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/apperr"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/logger"
	"github.com/rs/zerolog"
)

// TransactionReader is the read side of the transaction store.
type TransactionReader interface {
	ListByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error)
	ListExpenses(ctx context.Context) ([]*domain.Transaction, error)
	ListRaw(ctx context.Context, limit, offset int) ([]*domain.Transaction, error)
	CountTransactions(ctx context.Context) (int, error)
	MostRecent(ctx context.Context) (*domain.Transaction, error)
	RecurringPairs(ctx context.Context, limit int) ([]domain.RecurringPair, error)
	MerchantCounts(ctx context.Context, limit int) ([]domain.MerchantCount, error)
	AllMerchants(ctx context.Context) ([]domain.MerchantCount, error)
	MonthlySpending(ctx context.Context, since civil.Date) ([]domain.MonthlySpending, error)
}

// CategoryStore manages categories and merchant links.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) error
	DeleteCategory(ctx context.Context, id int64) error
	MerchantCategories(ctx context.Context, merchant string) ([]domain.Category, error)
	MerchantCategoriesBatch(ctx context.Context, merchants []string) (map[string][]domain.Category, error)
	AllMerchantCategories(ctx context.Context) (map[string][]domain.Category, error)
	AddMerchantCategory(ctx context.Context, merchant string, categoryID int64) (bool, error)
	RemoveMerchantCategory(ctx context.Context, merchant string, categoryID int64) error
}

const (
	topN              = 10
	defaultMonths     = 6
	maxMonths         = 120
	defaultRawLimit   = 1000
	maxRawLimit       = 10000
	defaultRangeYears = 1
)

// requestLog returns the logger middleware.Logger stored for r, which carries
// the request ID, or base when r did not pass through it.
func requestLog(r *http.Request, base zerolog.Logger) zerolog.Logger {
	if log, ok := r.Context().Value(logger.LoggerKey).(zerolog.Logger); ok {
		return log
	}
	return base
}

// storeError converts a store failure of op into an application error.
// subject names the missing or clashing thing in the client message.
func storeError(op, subject string, err error) error {
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return apperr.NotFound(op, subject+" not found")
	case errors.Is(err, sqlite.ErrDuplicate):
		return apperr.Conflict(op, subject+" already exists", err)
	default:
		return apperr.Internal(op, err)
	}
}

func parseDate(op, name, value string, fallback civil.Date) (civil.Date, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, apperr.Invalid(op, "Invalid "+name+" format, expected YYYY-MM-DD")
	}
	return d, nil
}

// parseInt reads an optional integer query parameter within [min, max].
func parseInt(op string, r *http.Request, name string, fallback, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, apperr.Invalid(op, "Invalid "+name+": must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
	}
	return n, nil
}

func pathID(op string, r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(op, "Invalid "+name)
	}
	return id, nil
}

// dateRange reads start_date and end_date, defaulting to the year ending today.
func dateRange(op string, r *http.Request, now time.Time) (civil.Date, civil.Date, error) {
	today := civil.DateOf(now)
	q := r.URL.Query()

	end, err := parseDate(op, "end_date", q.Get("end_date"), today)
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	start, err := parseDate(op, "start_date", q.Get("start_date"), civil.DateOf(end.In(time.UTC).AddDate(-defaultRangeYears, 0, 0)))
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	if end.Before(start) {
		return civil.Date{}, civil.Date{}, apperr.Invalid(op, "end_date must not be before start_date")
	}
	return start, end, nil
}

// monthWindowStart returns the first day of the month months-1 before now,
// so a window of n months covers n whole calendar months.
func monthWindowStart(now time.Time, months int) civil.Date {
	first := civil.DateOf(now)
	first.Day = 1
	return civil.DateOf(first.In(time.UTC).AddDate(0, -(months - 1), 0))
}
