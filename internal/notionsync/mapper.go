package notionsync

import (
	"time"

	"github.com/dvloznov/spendtrack/internal/analytics"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the subscriptions database.
const (
	PropMerchant        = "Merchant"
	PropAverageAmount   = "Average Amount"
	PropFrequency       = "Frequency"
	PropPayments        = "Payments"
	PropMonths          = "Months"
	PropLastPayment     = "Last Payment"
	PropDayOfMonth      = "Day of Month"
	PropAvgGapDays      = "Avg Gap Days"
	PropAmountVariation = "Amount Variation"
	PropLikely          = "Likely Subscription"
	PropCategories      = "Categories"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// SubscriptionToNotionProperties converts a detector candidate into the
// properties of its Notion page. categories may be nil.
func SubscriptionToNotionProperties(c analytics.Candidate, categories []domain.Category) notionapi.Properties {
	avg, _ := c.AvgAmount.Float64()

	props := notionapi.Properties{
		PropMerchant: notionapi.TitleProperty{
			Title: richText(c.Merchant),
		},
		PropAverageAmount:   notionapi.NumberProperty{Number: avg},
		PropPayments:        notionapi.NumberProperty{Number: float64(c.Count)},
		PropMonths:          notionapi.NumberProperty{Number: float64(c.Months)},
		PropDayOfMonth:      notionapi.NumberProperty{Number: float64(c.Day)},
		PropAvgGapDays:      notionapi.NumberProperty{Number: c.AvgGapDays},
		PropAmountVariation: notionapi.NumberProperty{Number: float64(c.AmountVariation)},
		PropFrequency: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(c.Frequency)},
		},
		PropLikely: notionapi.CheckboxProperty{
			Checkbox: analytics.IsLikelySubscription(c),
		},
	}

	// Last payment
	if !c.LastDate.IsZero() {
		d := notionapi.Date(c.LastDate.In(time.UTC))
		props[PropLastPayment] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	if len(categories) > 0 {
		opts := make([]notionapi.Option, 0, len(categories))
		for _, cat := range categories {
			opts = append(opts, notionapi.Option{Name: cat.Name})
		}
		props[PropCategories] = notionapi.MultiSelectProperty{MultiSelect: opts}
	}

	return props
}

// merchantFromPage extracts the merchant title from a Notion page's properties.
// Returns empty string if not found.
func merchantFromPage(page notionapi.Page) string {
	if prop, ok := page.Properties[PropMerchant]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
