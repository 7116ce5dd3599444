package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func categoryRequest(method, target, body string, pathValues map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	return req
}

func TestCategories_List(t *testing.T) {
	store := &MockStore{ListCategoriesResult: []domain.Category{{ID: 1, Name: "Food", Color: "#10b981", MerchantCount: 3}}}
	h := NewCategoriesHandler(store, zerolog.Nop())

	rec := serve(h.List, http.MethodGet, "/api/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	var cats []map[string]interface{}
	decodeBody(t, rec, &cats)
	require.Len(t, cats, 1)
	assert.Equal(t, "Food", cats[0]["name"])
	assert.EqualValues(t, 3, cats[0]["merchant_count"])
}

func TestCategories_Create(t *testing.T) {
	var created *domain.Category
	store := &MockStore{
		CreateCategoryFunc: func(ctx context.Context, c *domain.Category) error {
			if strings.EqualFold(c.Name, "food") {
				return fmt.Errorf("CreateCategory: %q: %w", c.Name, sqlite.ErrDuplicate)
			}
			c.ID = 9
			created = c
			return nil
		},
	}
	h := NewCategoriesHandler(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Create(rec, categoryRequest(http.MethodPost, "/api/categories", `{"name": "  Travel ", "icon": "plane"}`, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, created)
	assert.Equal(t, "Travel", created.Name)
	assert.Equal(t, domain.DefaultCategoryColor, created.Color)

	cases := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"malformed", `{"name":`, http.StatusBadRequest, "Invalid request body"},
		{"blank name", `{"name": "   "}`, http.StatusBadRequest, domain.ErrCategoryNameRequired.Error()},
		{"long name", `{"name": "` + strings.Repeat("x", 65) + `"}`, http.StatusBadRequest, domain.ErrCategoryNameTooLong.Error()},
		{"bad color", `{"name": "Pets", "color": "red"}`, http.StatusBadRequest, domain.ErrInvalidColor.Error()},
		{"duplicate", `{"name": "FOOD"}`, http.StatusConflict, "category already exists"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, categoryRequest(http.MethodPost, "/api/categories", tc.body, nil))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.message, errorMessage(t, rec))
		})
	}
}

func TestCategories_Delete(t *testing.T) {
	store := &MockStore{
		DeleteCategoryFunc: func(ctx context.Context, id int64) error {
			if id == 404 {
				return sqlite.ErrNotFound
			}
			return nil
		},
	}
	h := NewCategoriesHandler(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Delete(rec, categoryRequest(http.MethodDelete, "/api/categories/3", "", map[string]string{"id": "3"}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Delete(rec, categoryRequest(http.MethodDelete, "/api/categories/404", "", map[string]string{"id": "404"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "category not found", errorMessage(t, rec))

	rec = httptest.NewRecorder()
	h.Delete(rec, categoryRequest(http.MethodDelete, "/api/categories/abc", "", map[string]string{"id": "abc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCategories_MerchantLinks(t *testing.T) {
	food := domain.Category{ID: 1, Name: "Food", Color: "#10b981"}
	links := map[string]bool{}
	store := &MockStore{
		AddLinkFunc: func(ctx context.Context, merchant string, id int64) (bool, error) {
			if id != food.ID {
				return false, sqlite.ErrNotFound
			}
			key := fmt.Sprintf("%s/%d", merchant, id)
			if links[key] {
				return false, nil
			}
			links[key] = true
			return true, nil
		},
		RemoveLinkFunc: func(ctx context.Context, merchant string, id int64) error {
			key := fmt.Sprintf("%s/%d", merchant, id)
			if !links[key] {
				return sqlite.ErrNotFound
			}
			delete(links, key)
			return nil
		},
		BatchFunc: func(ctx context.Context, merchants []string) (map[string][]domain.Category, error) {
			out := map[string][]domain.Category{}
			for _, m := range merchants {
				if links[m+"/1"] {
					out[m] = []domain.Category{food}
				}
			}
			return out, nil
		},
	}
	h := NewCategoriesHandler(store, zerolog.Nop())
	path := map[string]string{"name": "Woolworths Metro", "id": "1"}

	rec := httptest.NewRecorder()
	h.AddMerchantCategory(rec, categoryRequest(http.MethodPost, "/", "", path))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.AddMerchantCategory(rec, categoryRequest(http.MethodPost, "/", "", path))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.AddMerchantCategory(rec, categoryRequest(http.MethodPost, "/", "", map[string]string{"name": "Woolworths Metro", "id": "2"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.MerchantCategories(rec, categoryRequest(http.MethodGet, "/", "", path))
	require.Equal(t, http.StatusOK, rec.Code)
	var cats []domain.Category
	decodeBody(t, rec, &cats)
	require.Len(t, cats, 1)
	assert.Equal(t, "Food", cats[0].Name)

	rec = httptest.NewRecorder()
	h.Batch(rec, categoryRequest(http.MethodPost, "/api/merchants/categories/batch", `["Woolworths Metro", "Aldi"]`, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"Aldi": [], "Woolworths Metro": [{"id": 1, "name": "Food", "color": "#10b981", "icon": "", "merchant_count": 0, "created_at": "0001-01-01T00:00:00Z"}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.RemoveMerchantCategory(rec, categoryRequest(http.MethodDelete, "/", "", path))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.RemoveMerchantCategory(rec, categoryRequest(http.MethodDelete, "/", "", path))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "merchant category link not found", errorMessage(t, rec))

	rec = httptest.NewRecorder()
	h.MerchantCategories(rec, categoryRequest(http.MethodGet, "/", "", map[string]string{"name": " "}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Batch(rec, categoryRequest(http.MethodPost, "/", `{"not": "a list"}`, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
