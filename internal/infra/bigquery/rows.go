package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow is one exported ledger line in the warehouse table.
type TransactionRow struct {
	ContentHash string `bigquery:"content_hash"` // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED, partition column

	Amount  *big.Rat `bigquery:"amount"`  // REQUIRED NUMERIC
	Balance *big.Rat `bigquery:"balance"` // NULLABLE NUMERIC

	OriginalDescription string `bigquery:"original_description"` // REQUIRED

	MerchantName    bigquery.NullString `bigquery:"merchant_name"`
	TransactionType bigquery.NullString `bigquery:"transaction_type"`
	Location        bigquery.NullString `bigquery:"location"`
	Currency        bigquery.NullString `bigquery:"currency"`
	CardSuffix      bigquery.NullString `bigquery:"card_suffix"`
	ValueDate       bigquery.NullDate   `bigquery:"value_date"`

	Source     string   `bigquery:"source"`
	Categories []string `bigquery:"categories"` // REPEATED STRING

	CreatedTS  time.Time `bigquery:"created_ts"`  // REQUIRED
	ExportedTS time.Time `bigquery:"exported_ts"` // REQUIRED
}

// RowFromTransaction maps a stored transaction and its merchant's
// categories onto a warehouse row.
func RowFromTransaction(tx *domain.Transaction, categories []domain.Category, exportedAt time.Time) *TransactionRow {
	row := &TransactionRow{
		ContentHash:         tx.ContentHash,
		TransactionDate:     tx.Date,
		Amount:              toRat(tx.Amount),
		OriginalDescription: tx.OriginalDescription,
		MerchantName:        nullString(tx.MerchantName),
		TransactionType:     nullString(tx.TransactionType),
		Location:            nullString(tx.Location),
		Currency:            nullString(tx.Currency),
		CardSuffix:          nullString(tx.CardSuffix),
		Source:              tx.Source,
		Categories:          []string{},
		CreatedTS:           tx.CreatedAt.UTC(),
		ExportedTS:          exportedAt.UTC(),
	}
	if tx.Balance != nil {
		row.Balance = toRat(*tx.Balance)
	}
	if tx.ValueDate != nil {
		if d, err := civil.ParseDate(*tx.ValueDate); err == nil {
			row.ValueDate = bigquery.NullDate{Date: d, Valid: true}
		}
	}
	for _, c := range categories {
		row.Categories = append(row.Categories, c.Name)
	}
	if row.CreatedTS.IsZero() {
		row.CreatedTS = row.ExportedTS
	}
	return row
}

func toRat(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func nullString(p *string) bigquery.NullString {
	if p == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *p, Valid: true}
}
