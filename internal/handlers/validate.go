package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amplify-platform/authd/internal/logging"
	"github.com/amplify-platform/authd/internal/services"
)

// ValidateHandler serves the hot path: every authenticated request to a
// downstream service lands here.
type ValidateHandler struct {
	validator services.TokenValidator
	logger    *logging.Logger
}

func NewValidateHandler(validator services.TokenValidator, logger *logging.Logger) *ValidateHandler {
	if logger == nil {
		logger = logging.Default
	}
	return &ValidateHandler{validator: validator, logger: logger}
}

type ValidateTokenRequest struct {
	Token          string   `json:"token"`
	RequiredScopes []string `json:"required_scopes"`
	// Audit-only fields; recorded in logs, never enforced.
	ServiceName string `json:"service_name,omitempty"`
	ActionName  string `json:"action_name,omitempty"`
}

func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	result, err := h.validator.Validate(r.Context(), req.Token, req.RequiredScopes)
	if err != nil {
		h.logger.Error("Error validating token", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if req.ServiceName != "" {
		h.logger.Debug("Token validated", map[string]interface{}{
			"service": req.ServiceName,
			"action":  req.ActionName,
			"valid":   result.Valid,
		})
	}

	writeJSON(w, http.StatusOK, result)
}
