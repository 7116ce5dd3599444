package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ContentHash returns the identity of a logical transaction: a sha256 hex
// digest over its normalized date, description and amount. Equal inputs give
// equal hashes across runs and processes.
func ContentHash(date civil.Date, description string, amount decimal.Decimal) string {
	fields := map[string]string{
		"amount":      amount.String(),
		"date":        date.String(),
		"description": strings.TrimSpace(description),
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// RowHash is ContentHash for a parsed row.
func RowHash(r Row) string {
	return ContentHash(r.Date, r.Description, r.Amount)
}
