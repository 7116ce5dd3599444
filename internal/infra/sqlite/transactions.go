package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, date, amount, balance, original_description, merchant_name,
	transaction_type, location, currency, card_suffix, value_date, content_hash, source, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		tx        domain.Transaction
		date      string
		amount    float64
		balance   sql.NullFloat64
		merchant  sql.NullString
		txType    sql.NullString
		location  sql.NullString
		currency  sql.NullString
		card      sql.NullString
		valueDate sql.NullString
		createdAt time.Time
	)
	if err := s.Scan(&tx.ID, &date, &amount, &balance, &tx.OriginalDescription, &merchant,
		&txType, &location, &currency, &card, &valueDate, &tx.ContentHash, &tx.Source, &createdAt); err != nil {
		return nil, err
	}

	d, err := civil.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: bad date %q: %w", tx.ID, date, err)
	}
	tx.Date = d
	tx.Amount = decimal.NewFromFloat(amount)
	if balance.Valid {
		b := decimal.NewFromFloat(balance.Float64)
		tx.Balance = &b
	}
	tx.MerchantName = nullStringPtr(merchant)
	tx.TransactionType = nullStringPtr(txType)
	tx.Location = nullStringPtr(location)
	tx.Currency = nullStringPtr(currency)
	tx.CardSuffix = nullStringPtr(card)
	tx.ValueDate = nullStringPtr(valueDate)
	tx.CreatedAt = createdAt.UTC()
	return &tx, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableString(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.InexactFloat64()
}

// Insert stores tx unless a row with the same content hash exists. The
// uniqueness check is the table constraint, so concurrent callers inserting
// the same hash see exactly one success. On insert tx.ID is set.
func (s *Store) Insert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.ContentHash == "" {
		return false, errors.New("Insert: content hash is required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			date, amount, balance, original_description, merchant_name, transaction_type,
			location, currency, card_suffix, value_date, content_hash, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO NOTHING`,
		tx.Date.String(),
		tx.Amount.InexactFloat64(),
		nullableFloat(tx.Balance),
		tx.OriginalDescription,
		nullableString(tx.MerchantName),
		nullableString(tx.TransactionType),
		nullableString(tx.Location),
		nullableString(tx.Currency),
		nullableString(tx.CardSuffix),
		nullableString(tx.ValueDate),
		tx.ContentHash,
		tx.Source,
	)
	if err != nil {
		return false, fmt.Errorf("Insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Insert: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return true, fmt.Errorf("Insert: last insert id: %w", err)
	}
	tx.ID = id
	return true, nil
}

// Exists reports whether a transaction with the given content hash is stored.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE content_hash = ?)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	return exists, nil
}

func (s *Store) listTransactions(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}

// ListByDateRange returns transactions dated within [start, end], oldest first.
func (s *Store) ListByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error) {
	return s.listTransactions(ctx, "ListByDateRange", `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE date >= ? AND date <= ?
		ORDER BY date, id`,
		start.String(), end.String())
}

// ListExpenses returns every outflow that has a merchant name.
func (s *Store) ListExpenses(ctx context.Context) ([]*domain.Transaction, error) {
	return s.listTransactions(ctx, "ListExpenses", `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE amount < 0 AND merchant_name IS NOT NULL
		ORDER BY date, id`)
}

// ListRaw returns a page of transactions, newest first.
func (s *Store) ListRaw(ctx context.Context, limit, offset int) ([]*domain.Transaction, error) {
	return s.listTransactions(ctx, "ListRaw", `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY date DESC, id DESC
		LIMIT ? OFFSET ?`,
		limit, offset)
}

// CountTransactions returns the number of stored transactions.
func (s *Store) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountTransactions: %w", err)
	}
	return n, nil
}

// MostRecent returns the latest transaction or ErrNotFound on an empty store.
func (s *Store) MostRecent(ctx context.Context) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY date DESC, id DESC
		LIMIT 1`)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("MostRecent: %w", err)
	}
	return tx, nil
}

// RecurringPairs returns (merchant, amount) pairs seen more than once, most
// frequent first. Unnamed transactions form their own group.
func (s *Store) RecurringPairs(ctx context.Context, limit int) ([]domain.RecurringPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant_name, amount, COUNT(*) AS occurrence_count
		FROM transactions
		GROUP BY merchant_name, amount
		HAVING COUNT(*) > 1
		ORDER BY occurrence_count DESC, merchant_name
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecurringPairs: %w", err)
	}
	defer rows.Close()

	out := []domain.RecurringPair{}
	for rows.Next() {
		var (
			p        domain.RecurringPair
			merchant sql.NullString
			amount   float64
		)
		if err := rows.Scan(&merchant, &amount, &p.OccurrenceCount); err != nil {
			return nil, fmt.Errorf("RecurringPairs: scan: %w", err)
		}
		p.MerchantName = nullStringPtr(merchant)
		p.Amount = decimal.NewFromFloat(amount)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecurringPairs: rows: %w", err)
	}
	return out, nil
}

// MerchantCounts returns transaction counts per merchant, busiest first.
// Unnamed transactions are counted as one group. A non-positive limit
// returns every group.
func (s *Store) MerchantCounts(ctx context.Context, limit int) ([]domain.MerchantCount, error) {
	return s.merchantCounts(ctx, "MerchantCounts", limit, true)
}

// AllMerchants returns every named merchant with its transaction count.
func (s *Store) AllMerchants(ctx context.Context) ([]domain.MerchantCount, error) {
	return s.merchantCounts(ctx, "AllMerchants", 0, false)
}

func (s *Store) merchantCounts(ctx context.Context, op string, limit int, unnamed bool) ([]domain.MerchantCount, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant_name, COUNT(*) AS transaction_count
		FROM transactions
		WHERE ? OR merchant_name IS NOT NULL
		GROUP BY merchant_name
		ORDER BY transaction_count DESC, merchant_name
		LIMIT ?`, unnamed, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.MerchantCount{}
	for rows.Next() {
		var (
			c        domain.MerchantCount
			merchant sql.NullString
		)
		if err := rows.Scan(&merchant, &c.TransactionCount); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		c.MerchantName = nullStringPtr(merchant)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}

// MonthlySpending sums absolute amounts per month and transaction type for
// transactions dated on or after since. Months are returned ascending.
func (s *Store) MonthlySpending(ctx context.Context, since civil.Date) ([]domain.MonthlySpending, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m', date) AS month,
		       COALESCE(NULLIF(transaction_type, ''), ?) AS type,
		       SUM(ABS(amount)) AS total
		FROM transactions
		WHERE date >= ?
		GROUP BY month, type
		ORDER BY month, type`,
		domain.TypeUnknown, since.String())
	if err != nil {
		return nil, fmt.Errorf("MonthlySpending: %w", err)
	}
	defer rows.Close()

	out := []domain.MonthlySpending{}
	for rows.Next() {
		var (
			month, txType string
			total         float64
		)
		if err := rows.Scan(&month, &txType, &total); err != nil {
			return nil, fmt.Errorf("MonthlySpending: scan: %w", err)
		}
		amount := decimal.NewFromFloat(total).Round(2)

		if len(out) == 0 || out[len(out)-1].Month != month {
			out = append(out, domain.MonthlySpending{
				Month:  month,
				ByType: map[string]decimal.Decimal{},
				Total:  decimal.Zero,
			})
		}
		cur := &out[len(out)-1]
		cur.ByType[txType] = amount
		cur.Total = cur.Total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("MonthlySpending: rows: %w", err)
	}
	return out, nil
}
