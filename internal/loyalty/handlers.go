package loyalty

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/berasid/backend-beras/internal/common"
)

// Handler exposes administrative loyalty code management endpoints.
type Handler struct {
	Store Store
}

type codePayload struct {
	Code            string     `json:"code"`
	PercentOff      float64    `json:"percentOff"`
	QualifyingSpend int64      `json:"qualifyingSpend"`
	ValidFrom       *time.Time `json:"validFrom"`
	ValidTo         *time.Time `json:"validTo"`
	UsageLimit      *int32     `json:"usageLimit"`
	PerUserLimit    *int32     `json:"perUserLimit"`
}

func (p codePayload) validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return errors.New("code is required")
	}
	if p.PercentOff <= 0 || p.PercentOff > 100 {
		return errors.New("percentOff must be in (0, 100]")
	}
	if p.QualifyingSpend < 0 {
		return errors.New("qualifyingSpend cannot be negative")
	}
	if p.ValidFrom != nil && p.ValidTo != nil && p.ValidTo.Before(*p.ValidFrom) {
		return errors.New("validTo cannot precede validFrom")
	}
	return nil
}

func (p codePayload) toCode() Code {
	return Code{
		Code:            strings.ToUpper(strings.TrimSpace(p.Code)),
		PercentOff:      p.PercentOff,
		QualifyingSpend: p.QualifyingSpend,
		ValidFrom:       p.ValidFrom,
		ValidTo:         p.ValidTo,
		UsageLimit:      p.UsageLimit,
		PerUserLimit:    p.PerUserLimit,
	}
}

// Create inserts a new loyalty code.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "loyalty store not configured", nil)
		return
	}
	var payload codePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := payload.validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	stored, err := h.Store.CreateCode(r.Context(), payload.toCode())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "loyalty code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create loyalty code", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": stored})
}

// Update mutates an existing loyalty code identified by code.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "loyalty store not configured", nil)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	var payload codePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	payload.Code = code
	if err := payload.validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	stored, err := h.Store.UpdateCode(r.Context(), payload.toCode())
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "loyalty code not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update loyalty code", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stored})
}

// List returns loyalty codes for the admin dashboard.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "loyalty store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := int32((page - 1) * perPage)
	codes, err := h.Store.ListCodes(r.Context(), int32(perPage), offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list loyalty codes", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": codes})
}
