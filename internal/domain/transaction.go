package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts are rendered as JSON numbers for API consumers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Classification is the structured guess the classifier produces for one
// free-text transaction description. Every field is optional.
type Classification struct {
	MerchantName    *string `json:"merchant_name"`
	TransactionType *string `json:"transaction_type"`
	Location        *string `json:"location"`
	Currency        *string `json:"currency"`
	CardSuffix      *string `json:"card_suffix"`
	ValueDate       *string `json:"value_date"` // ISO YYYY-MM-DD
}

// Transaction is one classified ledger line. It is immutable once stored and
// identified by ContentHash.
type Transaction struct {
	ID                  int64            `json:"id"`
	Date                civil.Date       `json:"date"`
	Amount              decimal.Decimal  `json:"amount"` // negative = expense
	Balance             *decimal.Decimal `json:"balance"`
	OriginalDescription string           `json:"original_description"`

	Classification

	ContentHash string    `json:"content_hash"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// Merchant returns the merchant name or "" when the classifier found none.
func (t *Transaction) Merchant() string {
	if t.MerchantName == nil {
		return ""
	}
	return *t.MerchantName
}

// Type returns the transaction type or "Unknown" when absent.
func (t *Transaction) Type() string {
	if t.TransactionType == nil || *t.TransactionType == "" {
		return TypeUnknown
	}
	return *t.TransactionType
}

// AbsAmount returns |Amount|.
func (t *Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// IsExpense reports whether the transaction is an outflow.
func (t *Transaction) IsExpense() bool {
	return t.Amount.IsNegative()
}

// Transaction types the system itself emits. The classifier vocabulary is open.
const (
	TypeDeposit    = "Deposit"
	TypeWithdrawal = "Withdrawal"
	TypeUnknown    = "Unknown"
)

// MerchantUnknown is the merchant assigned to bare-amount descriptions.
const MerchantUnknown = "Unknown"

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
