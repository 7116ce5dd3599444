package domain

import "github.com/shopspring/decimal"

// RecurringPair is a (merchant, amount) pair seen more than once. A nil
// MerchantName groups transactions the classifier left unnamed.
type RecurringPair struct {
	MerchantName    *string         `json:"merchant_name"`
	Amount          decimal.Decimal `json:"amount"`
	OccurrenceCount int             `json:"occurrence_count"`
}

// MerchantCount is the number of transactions recorded for a merchant, or
// for unnamed transactions when MerchantName is nil.
type MerchantCount struct {
	MerchantName     *string `json:"merchant_name"`
	TransactionCount int     `json:"transaction_count"`
}

// MonthlySpending is the absolute spend of one calendar month split by
// transaction type.
type MonthlySpending struct {
	Month  string                     `json:"month"` // YYYY-MM
	ByType map[string]decimal.Decimal `json:"by_type"`
	Total  decimal.Decimal            `json:"total"`
}
