package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/berasid/backend-beras/internal/catalog"
	"github.com/berasid/backend-beras/internal/common"
)

// Handler exposes the cart endpoints. Anonymous carts ride on the X-Anon-Id
// header; authenticated carts on the user in the request context.
type Handler struct {
	Svc *Service
}

const anonHeader = "X-Anon-Id"

func (h *Handler) owner(r *http.Request) (*uuid.UUID, *string) {
	if raw, ok := common.UserID(r.Context()); ok && raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return &id, nil
		}
	}
	if anon := r.Header.Get(anonHeader); anon != "" {
		return nil, &anon
	}
	return nil, nil
}

// Get returns the active cart with a fresh quote.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, anonID := h.owner(r)
	if userID == nil && anonID == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner is required", nil)
		return
	}
	c, err := h.Svc.EnsureCart(r.Context(), userID, anonID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var code *string
	if raw := r.URL.Query().Get("loyaltyCode"); raw != "" {
		code = &raw
	}
	quote, err := h.Svc.Quote(r.Context(), c.ID, code, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"cart":  c,
		"quote": quote,
	}})
}

type itemPayload struct {
	ProductID string  `json:"productId"`
	QtyKg     float64 `json:"qtyKg"`
}

// AddItem inserts or increments a line on the active cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, anonID := h.owner(r)
	if userID == nil && anonID == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner is required", nil)
		return
	}
	var payload itemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	productID, err := uuid.Parse(payload.ProductID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	c, err := h.Svc.EnsureCart(r.Context(), userID, anonID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.AddItem(r.Context(), c.ID, productID, payload.QtyKg); err != nil {
		h.writeError(w, err)
		return
	}
	quote, err := h.Svc.Quote(r.Context(), c.ID, nil, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// UpdateItem replaces a line quantity; zero removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, anonID := h.owner(r)
	if userID == nil && anonID == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner is required", nil)
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	var payload struct {
		QtyKg float64 `json:"qtyKg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	c, err := h.Svc.EnsureCart(r.Context(), userID, anonID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.SetItemQty(r.Context(), c.ID, productID, payload.QtyKg); err != nil {
		h.writeError(w, err)
		return
	}
	quote, err := h.Svc.Quote(r.Context(), c.ID, nil, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// RemoveItem deletes a line from the active cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, anonID := h.owner(r)
	if userID == nil && anonID == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner is required", nil)
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	c, err := h.Svc.EnsureCart(r.Context(), userID, anonID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.RemoveItem(r.Context(), c.ID, productID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_QUANTITY", err.Error(), nil)
	case errors.Is(err, catalog.ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart operation failed", nil)
	}
}
