package agent

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/common"
)

// Handler exposes the tool gateway for the hosted agent platform. Calls
// authenticate with a static service token, not a customer session.
type Handler struct {
	Tools        *Tools
	ServiceToken string
	Logger       zerolog.Logger
}

// RequireServiceToken guards the tool routes with a constant-time token check.
func (h *Handler) RequireServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.ServiceToken == "" {
			common.JSONError(w, http.StatusServiceUnavailable, "AGENT_DISABLED", "agent gateway is not configured", nil)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.ServiceToken)) != 1 {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid service token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Invoke dispatches one tool call.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	if h.Tools == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "agent tools not configured", nil)
		return
	}
	var req ToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	resp, err := h.Tools.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrUnknownTool) {
			common.JSONError(w, http.StatusNotFound, "UNKNOWN_TOOL", err.Error(), nil)
			return
		}
		h.Logger.Error().Err(err).Str("tool", req.Tool).Msg("agent tool dispatch")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tool execution failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}
