package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/spendtrack/internal/domain"
)

func scanCategory(s scanner, withCount bool) (*domain.Category, error) {
	var (
		c         domain.Category
		createdAt time.Time
	)
	dest := []interface{}{&c.ID, &c.Name, &c.Color, &c.Icon, &createdAt}
	if withCount {
		dest = append(dest, &c.MerchantCount)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	c.CreatedAt = createdAt.UTC()
	return &c, nil
}

// ListCategories returns every category with the number of merchants linked
// to it, ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.color, c.icon, c.created_at, COUNT(mc.id) AS merchant_count
		FROM categories c
		LEFT JOIN merchant_categories mc ON mc.category_id = c.id
		GROUP BY c.id
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	defer rows.Close()

	out := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows, true)
		if err != nil {
			return nil, fmt.Errorf("ListCategories: scan: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCategories: rows: %w", err)
	}
	return out, nil
}

// GetCategory returns one category or ErrNotFound.
func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.color, c.icon, c.created_at,
		       (SELECT COUNT(*) FROM merchant_categories mc WHERE mc.category_id = c.id)
		FROM categories c
		WHERE c.id = ?`, id)
	c, err := scanCategory(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCategory: %w", err)
	}
	return c, nil
}

// CreateCategory inserts c and fills its ID and CreatedAt. Names are unique
// case-insensitively; a clash returns ErrDuplicate.
func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (name, color, icon) VALUES (?, ?, ?)`,
		c.Name, c.Color, c.Icon)
	if isUniqueViolation(err) {
		return fmt.Errorf("CreateCategory: %q: %w", c.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("CreateCategory: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("CreateCategory: last insert id: %w", err)
	}

	created, err := s.GetCategory(ctx, id)
	if err != nil {
		return fmt.Errorf("CreateCategory: reload: %w", err)
	}
	*c = *created
	return nil
}

// DeleteCategory removes a category and, through the foreign key cascade,
// every merchant link to it.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteCategory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeleteCategory: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MerchantCategories returns the categories linked to merchant.
func (s *Store) MerchantCategories(ctx context.Context, merchant string) ([]domain.Category, error) {
	byMerchant, err := s.MerchantCategoriesBatch(ctx, []string{merchant})
	if err != nil {
		return nil, err
	}
	if cats, ok := byMerchant[merchant]; ok {
		return cats, nil
	}
	return []domain.Category{}, nil
}

// MerchantCategoriesBatch returns the linked categories for each requested
// merchant. Merchants without links are absent from the result.
func (s *Store) MerchantCategoriesBatch(ctx context.Context, merchants []string) (map[string][]domain.Category, error) {
	out := map[string][]domain.Category{}
	if len(merchants) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(merchants)), ", ")
	args := make([]interface{}, len(merchants))
	for i, m := range merchants {
		args[i] = m
	}

	return s.merchantCategoryIndex(ctx, "MerchantCategoriesBatch",
		`WHERE mc.merchant_name IN (`+placeholders+`)`, args...)
}

// AllMerchantCategories returns every merchant-category link grouped by
// merchant name.
func (s *Store) AllMerchantCategories(ctx context.Context) (map[string][]domain.Category, error) {
	return s.merchantCategoryIndex(ctx, "AllMerchantCategories", "")
}

func (s *Store) merchantCategoryIndex(ctx context.Context, op, where string, args ...interface{}) (map[string][]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mc.merchant_name, c.id, c.name, c.color, c.icon, c.created_at
		FROM merchant_categories mc
		JOIN categories c ON c.id = mc.category_id
		`+where+`
		ORDER BY mc.merchant_name, c.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := map[string][]domain.Category{}
	for rows.Next() {
		var (
			merchant  string
			c         domain.Category
			createdAt time.Time
		)
		if err := rows.Scan(&merchant, &c.ID, &c.Name, &c.Color, &c.Icon, &createdAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		c.CreatedAt = createdAt.UTC()
		out[merchant] = append(out[merchant], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}

// AddMerchantCategory links merchant to a category. It reports false when the
// link already existed and ErrNotFound when the category does not exist.
func (s *Store) AddMerchantCategory(ctx context.Context, merchant string, categoryID int64) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE id = ?)`, categoryID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("AddMerchantCategory: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_categories (merchant_name, category_id) VALUES (?, ?)
		ON CONFLICT (merchant_name, category_id) DO NOTHING`,
		merchant, categoryID)
	if err != nil {
		return false, fmt.Errorf("AddMerchantCategory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("AddMerchantCategory: rows affected: %w", err)
	}
	return n == 1, nil
}

// RemoveMerchantCategory deletes one link or returns ErrNotFound.
func (s *Store) RemoveMerchantCategory(ctx context.Context, merchant string, categoryID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM merchant_categories WHERE merchant_name = ? AND category_id = ?`,
		merchant, categoryID)
	if err != nil {
		return fmt.Errorf("RemoveMerchantCategory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RemoveMerchantCategory: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
