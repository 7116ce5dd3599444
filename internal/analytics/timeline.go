package analytics

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/shopspring/decimal"
)

// Granularity is the width of a timeline period.
type Granularity string

const (
	GranularityYear  Granularity = "year"
	GranularityMonth Granularity = "month"
	GranularityDay   Granularity = "day"
	// GranularityHour buckets by day: stored dates carry no time of day.
	GranularityHour Granularity = "hour"
)

// ParseGranularity accepts year, month, day and hour, and their -ly forms.
// An empty string means month.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "month", "monthly":
		return GranularityMonth, nil
	case "year", "yearly":
		return GranularityYear, nil
	case "day", "daily":
		return GranularityDay, nil
	case "hour", "hourly":
		return GranularityHour, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// PeriodKey truncates d to g.
func PeriodKey(d civil.Date, g Granularity) string {
	switch g {
	case GranularityYear:
		return fmt.Sprintf("%04d", d.Year)
	case GranularityDay, GranularityHour:
		return d.String()
	default:
		return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
	}
}

// Bucket is a set of transactions with the sum of their absolute amounts.
type Bucket struct {
	Total        decimal.Decimal       `json:"total"`
	Transactions []*domain.Transaction `json:"transactions"`
}

func newBucket() Bucket {
	return Bucket{Total: decimal.Zero, Transactions: []*domain.Transaction{}}
}

func (b *Bucket) add(tx *domain.Transaction) {
	b.Total = b.Total.Add(tx.AbsAmount())
	b.Transactions = append(b.Transactions, tx)
}

func (b *Bucket) sortByMagnitude() {
	sort.SliceStable(b.Transactions, func(i, j int) bool {
		return b.Transactions[i].AbsAmount().GreaterThan(b.Transactions[j].AbsAmount())
	})
}

// Period splits one period's spend into recurring and one-time.
type Period struct {
	Recurring Bucket          `json:"recurring"`
	OneTime   Bucket          `json:"one-time"`
	Total     decimal.Decimal `json:"total"`
}

// recurringKey identifies a (merchant, amount) pair. Transactions without a
// merchant share one key.
type recurringKey struct {
	merchant    string
	hasMerchant bool
	amount      string
}

func keyOf(tx *domain.Transaction) recurringKey {
	k := recurringKey{amount: tx.Amount.String()}
	if tx.MerchantName != nil {
		k.merchant = *tx.MerchantName
		k.hasMerchant = true
	}
	return k
}

// recurringSet marks (merchant, amount) pairs seen more than once in txs.
// The signal is local to the slice.
func recurringSet(txs []*domain.Transaction) map[recurringKey]bool {
	counts := map[recurringKey]int{}
	for _, tx := range txs {
		counts[keyOf(tx)]++
	}
	out := map[recurringKey]bool{}
	for k, n := range counts {
		if n > 1 {
			out[k] = true
		}
	}
	return out
}

// BuildTimeline buckets txs by period and splits each period into recurring
// and one-time spend. An empty input gives an empty, non-nil map.
func BuildTimeline(txs []*domain.Transaction, g Granularity) map[string]*Period {
	recurring := recurringSet(txs)

	out := map[string]*Period{}
	for _, tx := range txs {
		key := PeriodKey(tx.Date, g)
		p, ok := out[key]
		if !ok {
			p = &Period{Recurring: newBucket(), OneTime: newBucket(), Total: decimal.Zero}
			out[key] = p
		}
		if recurring[keyOf(tx)] {
			p.Recurring.add(tx)
		} else {
			p.OneTime.add(tx)
		}
		p.Total = p.Total.Add(tx.AbsAmount())
	}

	for _, p := range out {
		p.Recurring.sortByMagnitude()
		p.OneTime.sortByMagnitude()
	}
	return out
}

// CategoryTotal accumulates one category's spend within a period.
type CategoryTotal struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
	Color string          `json:"color"`
	Icon  string          `json:"icon"`
}

// CategoryPeriod is one period of the category timeline.
type CategoryPeriod struct {
	Total        decimal.Decimal           `json:"total"`
	Transactions []*domain.Transaction     `json:"transactions"`
	Categories   map[string]*CategoryTotal `json:"categories"`
}

// BuildCategoryTimeline buckets txs by period and, within each period,
// attributes every transaction's full amount to each category linked to its
// merchant. Category totals may therefore sum to more than the period total.
func BuildCategoryTimeline(txs []*domain.Transaction, links map[string][]domain.Category, g Granularity) map[string]*CategoryPeriod {
	out := map[string]*CategoryPeriod{}
	for _, tx := range txs {
		key := PeriodKey(tx.Date, g)
		p, ok := out[key]
		if !ok {
			p = &CategoryPeriod{
				Total:        decimal.Zero,
				Transactions: []*domain.Transaction{},
				Categories:   map[string]*CategoryTotal{},
			}
			out[key] = p
		}

		abs := tx.AbsAmount()
		p.Total = p.Total.Add(abs)
		p.Transactions = append(p.Transactions, tx)

		if tx.MerchantName == nil {
			continue
		}
		for _, cat := range links[*tx.MerchantName] {
			ct, ok := p.Categories[cat.Name]
			if !ok {
				ct = &CategoryTotal{Total: decimal.Zero, Color: cat.Color, Icon: cat.Icon}
				p.Categories[cat.Name] = ct
			}
			ct.Total = ct.Total.Add(abs)
			ct.Count++
		}
	}

	for _, p := range out {
		sort.SliceStable(p.Transactions, func(i, j int) bool {
			return p.Transactions[i].AbsAmount().GreaterThan(p.Transactions[j].AbsAmount())
		})
	}
	return out
}

// SortedKeys returns the period keys of a timeline in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
