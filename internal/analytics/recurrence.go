// Package analytics derives recurring-payment candidates and period
// timelines from stored transactions. Everything here is pure: callers fetch
// the transactions and pass them in.
package analytics

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/shopspring/decimal"
)

// Cadence is the billing rhythm inferred from payment gaps.
type Cadence string

const (
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
	CadenceIrregular Cadence = "irregular"
	CadenceUnknown   Cadence = "unknown"
)

// Admission thresholds for a merchant to be a recurrence candidate.
const (
	minPayments        = 2
	minDistinctMonths  = 2
	maxAmountVariation = 5
	recentWindow       = 12
)

var minAverageAmount = decimal.NewFromInt(1)

// TransactionRef is the per-payment detail carried by a candidate.
type TransactionRef struct {
	ID          int64           `json:"id"`
	Date        civil.Date      `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Candidate is a merchant whose payments look recurring.
type Candidate struct {
	Merchant string `json:"merchant"`
	Count    int    `json:"count"`
	// Months is the number of distinct calendar months with a payment.
	Months    int             `json:"months"`
	AvgAmount decimal.Decimal `json:"avg_amount"`
	LastDate  civil.Date      `json:"last_date"`
	// Day is the day of month of the last payment.
	Day int `json:"day"`
	// AmountVariation counts distinct whole-unit amounts.
	AmountVariation int     `json:"amount_variation"`
	Frequency       Cadence `json:"frequency"`
	AvgGapDays      float64 `json:"avg_gap_days"`
	Gaps            []int   `json:"gaps"`
	// Transactions holds the most recent payments, oldest first.
	Transactions []TransactionRef `json:"transactions"`
}

// ClassifyCadence maps an average gap in days onto a cadence. Bands are
// inclusive. Fewer than two payments have no gap to classify.
func ClassifyCadence(avgGap float64, payments int) Cadence {
	if payments < 2 {
		return CadenceUnknown
	}
	switch {
	case avgGap >= 20 && avgGap <= 40:
		return CadenceMonthly
	case avgGap >= 80 && avgGap <= 100:
		return CadenceQuarterly
	case avgGap >= 350 && avgGap <= 380:
		return CadenceYearly
	default:
		return CadenceIrregular
	}
}

// DetectRecurring groups expenses by merchant and returns every group that
// passes the admission filter, busiest first. Non-expenses and rows without a
// merchant are ignored. The result is never nil.
func DetectRecurring(txs []*domain.Transaction) []Candidate {
	groups := map[string][]*domain.Transaction{}
	for _, tx := range txs {
		if tx == nil || tx.MerchantName == nil || !tx.IsExpense() {
			continue
		}
		groups[*tx.MerchantName] = append(groups[*tx.MerchantName], tx)
	}

	out := []Candidate{}
	for merchant, group := range groups {
		if c, ok := evaluate(merchant, group); ok {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Merchant < out[j].Merchant
	})
	return out
}

func evaluate(merchant string, group []*domain.Transaction) (Candidate, bool) {
	type yearMonth struct {
		year  int
		month int
	}
	months := map[yearMonth]struct{}{}
	amounts := map[string]struct{}{}
	sum := decimal.Zero
	last := group[0].Date

	for _, tx := range group {
		months[yearMonth{tx.Date.Year, int(tx.Date.Month)}] = struct{}{}
		amounts[tx.AbsAmount().Round(0).String()] = struct{}{}
		sum = sum.Add(tx.AbsAmount())
		if tx.Date.After(last) {
			last = tx.Date
		}
	}

	count := len(group)
	avg := sum.Div(decimal.NewFromInt(int64(count))).Round(2)

	if count < minPayments ||
		len(months) < minDistinctMonths ||
		len(amounts) > maxAmountVariation ||
		!avg.GreaterThan(minAverageAmount) {
		return Candidate{}, false
	}

	recent := mostRecent(group, recentWindow)
	gaps := make([]int, 0, len(recent))
	for i := 1; i < len(recent); i++ {
		gaps = append(gaps, recent[i].Date.DaysSince(recent[i-1].Date))
	}
	avgGap := 0.0
	if len(gaps) > 0 {
		total := 0
		for _, g := range gaps {
			total += g
		}
		avgGap = float64(total) / float64(len(gaps))
	}

	refs := make([]TransactionRef, 0, len(recent))
	for _, tx := range recent {
		refs = append(refs, TransactionRef{
			ID:          tx.ID,
			Date:        tx.Date,
			Amount:      tx.Amount,
			Description: tx.OriginalDescription,
		})
	}

	return Candidate{
		Merchant:        merchant,
		Count:           count,
		Months:          len(months),
		AvgAmount:       avg,
		LastDate:        last,
		Day:             last.Day,
		AmountVariation: len(amounts),
		Frequency:       ClassifyCadence(avgGap, len(recent)),
		AvgGapDays:      math.Round(avgGap*10) / 10,
		Gaps:            gaps,
		Transactions:    refs,
	}, true
}

// mostRecent returns up to n of the latest transactions in ascending order.
func mostRecent(group []*domain.Transaction, n int) []*domain.Transaction {
	sorted := make([]*domain.Transaction, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date.After(sorted[j].Date)
		}
		return sorted[i].ID > sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}

// IsLikelySubscription is the presentation filter the dashboard and the
// Notion mirror apply on top of DetectRecurring.
func IsLikelySubscription(c Candidate) bool {
	switch c.Frequency {
	case CadenceMonthly, CadenceQuarterly:
		return true
	}
	if c.Months >= 3 {
		return true
	}
	return c.Count >= 3 && c.Frequency != CadenceIrregular
}

// FilterLikely keeps only likely subscriptions.
func FilterLikely(cs []Candidate) []Candidate {
	out := []Candidate{}
	for _, c := range cs {
		if IsLikelySubscription(c) {
			out = append(out, c)
		}
	}
	return out
}
