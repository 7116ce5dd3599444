package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory_NormalizeAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Category
		want    error
		wantHex string
	}{
		{"default color", Category{Name: "  Groceries "}, nil, DefaultCategoryColor},
		{"short hex", Category{Name: "Fun", Color: "#abc"}, nil, "#abc"},
		{"long hex", Category{Name: "Fun", Color: " #A1B2C3 "}, nil, "#A1B2C3"},
		{"blank name", Category{Name: "   "}, ErrCategoryNameRequired, DefaultCategoryColor},
		{"long name", Category{Name: strings.Repeat("x", 65)}, ErrCategoryNameTooLong, DefaultCategoryColor},
		{"bad color", Category{Name: "Fun", Color: "red"}, ErrInvalidColor, "red"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.Normalize()
			assert.Equal(t, tt.wantHex, c.Color)
			assert.Equal(t, strings.TrimSpace(tt.in.Name), c.Name)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}

	// 64 runes is the limit, not 64 bytes.
	c := Category{Name: strings.Repeat("é", 64)}
	c.Normalize()
	assert.NoError(t, c.Validate())
}

func TestTransaction_Accessors(t *testing.T) {
	tx := &Transaction{Amount: decimal.RequireFromString("-12.30")}
	assert.Equal(t, "", tx.Merchant())
	assert.Equal(t, TypeUnknown, tx.Type())
	assert.True(t, tx.IsExpense())
	assert.Equal(t, "12.3", tx.AbsAmount().String())

	tx.MerchantName = StringPtr("Cafe")
	tx.TransactionType = StringPtr("Card Purchase")
	assert.Equal(t, "Cafe", tx.Merchant())
	assert.Equal(t, "Card Purchase", tx.Type())
	assert.Nil(t, StringPtr(""))
}

func TestTransaction_JSONAmountsAreNumbers(t *testing.T) {
	b, err := json.Marshal(&Transaction{Amount: decimal.RequireFromString("-5.5")})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"amount":-5.5`)
	assert.Contains(t, string(b), `"merchant_name":null`)
}
