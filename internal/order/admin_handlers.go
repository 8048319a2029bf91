package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/common"
)

// AdminHandler exposes the staff-facing order management endpoints.
type AdminHandler struct {
	Store  Store
	Logger zerolog.Logger
}

// List returns orders filtered by status and sales channel.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50)
	if perPage > 200 {
		perPage = 200
	}

	filter := ListFilter{
		SalesChannel: r.URL.Query().Get("channel"),
		Limit:        int32(perPage),
		Offset:       int32((page - 1) * perPage),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := Status(raw)
		if !st.Valid() {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown order status", map[string]any{"status": raw})
			return
		}
		filter.Status = st
	}

	orders, err := h.Store.ListOrders(r.Context(), filter)
	if err != nil {
		h.Logger.Error().Err(err).Msg("admin list orders")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list orders", nil)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: len(orders)},
	})
}

type patchStatusPayload struct {
	Status string `json:"status"`
}

// PatchStatus advances an order along the fulfillment state machine. Returns
// happen only from delivered, and terminal states never move again.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}

	var payload patchStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	target := Status(payload.Status)
	if !target.Valid() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown order status", map[string]any{"status": payload.Status})
		return
	}

	o, err := h.Store.GetOrder(r.Context(), orderID)
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("get order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load order", nil)
		return
	}

	if !o.Status.CanTransitionTo(target) {
		common.JSONError(w, http.StatusConflict, "INVALID_STATUS_TRANSITION",
			"status transition not allowed",
			map[string]any{"currentStatus": o.Status, "requestedStatus": target})
		return
	}

	if err := h.Store.UpdateStatus(r.Context(), o.ID, target); err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("update order status")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not update order", nil)
		return
	}

	h.Logger.Info().
		Str("order_id", o.ID.String()).
		Str("from", string(o.Status)).
		Str("to", string(target)).
		Msg("order status updated")

	o.Status = target
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}
