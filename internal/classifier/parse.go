package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/spendtrack/internal/domain"
)

// ErrNoJSON is returned when a reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model reply")

// cleanModelJSON strips Markdown fences and any prose around the outermost
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "```json"), "```")
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			return strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// ParseReply maps a model reply onto a Classification. Keys are read
// explicitly; non-string and blank values become nil.
func ParseReply(raw string) (domain.Classification, error) {
	clean := cleanModelJSON(raw)
	if !strings.HasPrefix(clean, "{") {
		return domain.Classification{}, ErrNoJSON
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return domain.Classification{}, fmt.Errorf("ParseReply: unmarshal JSON: %w", err)
	}

	return domain.Classification{
		MerchantName:    stringField(obj, "merchant_name"),
		TransactionType: stringField(obj, "transaction_type"),
		Location:        stringField(obj, "location"),
		Currency:        stringField(obj, "currency"),
		CardSuffix:      stringField(obj, "last_4_card_number", "card_number"),
		ValueDate:       normalizeDate(stringField(obj, "date", "value_date")),
	}, nil
}

// stringField returns the first key present with a non-blank string value.
func stringField(m map[string]interface{}, keys ...string) *string {
	for _, k := range keys {
		v, ok := m[k].(string)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, "null") {
			continue
		}
		return &v
	}
	return nil
}

var replyDateLayouts = []string{
	"2/1/2006",
	time.DateOnly,
}

// normalizeDate rewrites a statement date as ISO; unparseable dates are
// dropped.
func normalizeDate(v *string) *string {
	if v == nil {
		return nil
	}
	for _, layout := range replyDateLayouts {
		if t, err := time.Parse(layout, *v); err == nil {
			iso := t.Format(time.DateOnly)
			return &iso
		}
	}
	return nil
}
