package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/common"
)

// Handler exposes the customer-facing order endpoints.
type Handler struct {
	Store  Store
	Logger zerolog.Logger
}

type orderDetail struct {
	Order
	Items   []Item   `json:"items"`
	Address *Address `json:"address,omitempty"`
}

// List returns a page of the authenticated customer's orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := int32((page - 1) * perPage)

	orders, err := h.Store.ListOrdersForUser(r.Context(), userID, int32(perPage), offset)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list orders")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list orders", nil)
		return
	}
	total, err := h.Store.CountOrdersForUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("count orders")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list orders", nil)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Detail returns one of the customer's orders with its lines and address.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}

	o, err := h.Store.GetOrderForUser(r.Context(), orderID, userID)
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("get order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load order", nil)
		return
	}

	items, err := h.Store.ListItemsByOrder(r.Context(), o.ID)
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("list order items")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load order", nil)
		return
	}

	detail := orderDetail{Order: o, Items: items}
	if o.AddressID != nil {
		addr, err := h.Store.GetAddress(r.Context(), *o.AddressID)
		if err == nil {
			detail.Address = &addr
		} else if !errors.Is(err, ErrNotFound) {
			h.Logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("load order address")
		}
	}

	common.JSON(w, http.StatusOK, map[string]any{"data": detail})
}

// Cancel lets a customer cancel their own order while it is still pending.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}

	o, err := h.Store.GetOrderForUser(r.Context(), orderID, userID)
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("get order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load order", nil)
		return
	}

	if o.Status != StatusPending {
		common.JSONError(w, http.StatusConflict, "INVALID_STATUS_TRANSITION",
			"only pending orders can be cancelled", map[string]any{"currentStatus": o.Status})
		return
	}
	if err := h.Store.UpdateStatus(r.Context(), o.ID, StatusCancelled); err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("cancel order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not cancel order", nil)
		return
	}

	o.Status = StatusCancelled
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func currentUserID(r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.UserID(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
