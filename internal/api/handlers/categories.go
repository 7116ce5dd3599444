package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dvloznov/spendtrack/internal/api/middleware"
	"github.com/dvloznov/spendtrack/internal/apperr"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/rs/zerolog"
)

// maxBatchMerchants bounds the batch lookup body.
const maxBatchMerchants = 1000

// CategoriesHandler handles category CRUD and merchant links.
type CategoriesHandler struct {
	store CategoryStore
	log   zerolog.Logger
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(store CategoryStore, log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{
		store: store,
		log:   log,
	}
}

// List handles GET /api/categories
func (h *CategoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store.ListCategories(r.Context())
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal("list categories", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cats)
}

// Create handles POST /api/categories
func (h *CategoriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "create category"

	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
		Icon  string `json:"icon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "Invalid request body"))
		return
	}

	cat := &domain.Category{Name: req.Name, Color: req.Color, Icon: req.Icon}
	cat.Normalize()
	if err := cat.Validate(); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, err.Error()))
		return
	}

	if err := h.store.CreateCategory(r.Context(), cat); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), storeError(op, "category", err))
		return
	}

	log := requestLog(r, h.log)
	log.Info().Int64("category_id", cat.ID).Str("name", cat.Name).Msg("Category created")
	middleware.WriteJSON(w, http.StatusCreated, cat)
}

// Delete handles DELETE /api/categories/{id}
func (h *CategoriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "delete category"

	id, err := pathID(op, r, "id")
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	if err := h.store.DeleteCategory(r.Context(), id); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), storeError(op, "category", err))
		return
	}

	log := requestLog(r, h.log)
	log.Info().Int64("category_id", id).Msg("Category deleted")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}

func merchantName(op string, r *http.Request) (string, error) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		return "", apperr.Invalid(op, "Merchant name is required")
	}
	return name, nil
}

// MerchantCategories handles GET /api/merchants/{name}/categories
func (h *CategoriesHandler) MerchantCategories(w http.ResponseWriter, r *http.Request) {
	const op = "list merchant categories"

	name, err := merchantName(op, r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	cats, err := h.store.MerchantCategories(r.Context(), name)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cats)
}

// AddMerchantCategory handles POST /api/merchants/{name}/categories/{id}
func (h *CategoriesHandler) AddMerchantCategory(w http.ResponseWriter, r *http.Request) {
	const op = "link merchant category"

	name, err := merchantName(op, r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	id, err := pathID(op, r, "id")
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	created, err := h.store.AddMerchantCategory(r.Context(), name, id)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), storeError(op, "category", err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, map[string]interface{}{
		"merchant_name": name,
		"category_id":   id,
		"created":       created,
	})
}

// RemoveMerchantCategory handles DELETE /api/merchants/{name}/categories/{id}
func (h *CategoriesHandler) RemoveMerchantCategory(w http.ResponseWriter, r *http.Request) {
	const op = "unlink merchant category"

	name, err := merchantName(op, r)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}
	id, err := pathID(op, r, "id")
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), err)
		return
	}

	if err := h.store.RemoveMerchantCategory(r.Context(), name, id); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), storeError(op, "merchant category link", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// Batch handles POST /api/merchants/categories/batch
func (h *CategoriesHandler) Batch(w http.ResponseWriter, r *http.Request) {
	const op = "batch merchant categories"

	var names []string
	if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "Body must be a JSON array of merchant names"))
		return
	}
	if len(names) > maxBatchMerchants {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Invalid(op, "Too many merchant names"))
		return
	}

	byMerchant, err := h.store.MerchantCategoriesBatch(r.Context(), names)
	if err != nil {
		middleware.WriteAppError(w, requestLog(r, h.log), apperr.Internal(op, err))
		return
	}

	// Every requested name gets a key, linked or not.
	out := make(map[string][]domain.Category, len(names))
	for _, n := range names {
		if cats, ok := byMerchant[n]; ok {
			out[n] = cats
		} else {
			out[n] = []domain.Category{}
		}
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}
