package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Category is a user-defined tag applied to merchants.
type Category struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	Icon          string    `json:"icon"`
	MerchantCount int       `json:"merchant_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// DefaultCategoryColor is used when a category is created without a color.
const DefaultCategoryColor = "#6b7280"

var (
	ErrCategoryNameRequired = errors.New("category name is required")
	ErrCategoryNameTooLong  = errors.New("category name must be at most 64 characters")
	ErrInvalidColor         = errors.New("color must be a hex value like #1a2b3c")
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Normalize trims user input and fills defaults.
func (c *Category) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Color = strings.TrimSpace(c.Color)
	c.Icon = strings.TrimSpace(c.Icon)
	if c.Color == "" {
		c.Color = DefaultCategoryColor
	}
}

// Validate checks a normalized category.
func (c *Category) Validate() error {
	if c.Name == "" {
		return ErrCategoryNameRequired
	}
	if len([]rune(c.Name)) > 64 {
		return ErrCategoryNameTooLong
	}
	if !hexColor.MatchString(c.Color) {
		return ErrInvalidColor
	}
	return nil
}

// MerchantCategory links a merchant name to a category. It applies to every
// transaction carrying that merchant name.
type MerchantCategory struct {
	MerchantName string    `json:"merchant_name"`
	CategoryID   int64     `json:"category_id"`
	CreatedAt    time.Time `json:"created_at"`
}
