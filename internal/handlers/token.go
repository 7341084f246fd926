package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/amplify-platform/authd/internal/logging"
	"github.com/amplify-platform/authd/internal/models"
	"github.com/amplify-platform/authd/internal/services"
)

// TokenHandler serves the admin token-management endpoints. Writes go
// through the command queue; reads hit the store directly since these are
// low-traffic paths that should see committed state, not the cache.
type TokenHandler struct {
	commands services.CommandSubmitter
	store    services.TokenReader
	logger   *logging.Logger
}

func NewTokenHandler(commands services.CommandSubmitter, store services.TokenReader, logger *logging.Logger) *TokenHandler {
	if logger == nil {
		logger = logging.Default
	}
	return &TokenHandler{commands: commands, store: store, logger: logger}
}

type CreateTokenRequest struct {
	Name     string                 `json:"name"`
	Scopes   []string               `json:"scopes"`
	TTLDays  *int                   `json:"ttl_days,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type ExtendTokenRequest struct {
	ExtendDays int `json:"extend_days"`
}

type TokenListResponse struct {
	Tokens []models.Token `json:"tokens"`
	Total  int            `json:"total"`
}

func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Scopes == nil {
		writeError(w, http.StatusBadRequest, "Scopes are required")
		return
	}
	if req.TTLDays != nil && *req.TTLDays <= 0 {
		writeError(w, http.StatusBadRequest, "ttl_days must be positive")
		return
	}

	raw, err := h.commands.SubmitCommand(r.Context(), models.CommandCreateToken, models.CreateTokenData{
		Name:     req.Name,
		Scopes:   req.Scopes,
		TTLDays:  req.TTLDays,
		Metadata: req.Metadata,
	})
	if errors.Is(err, services.ErrCommandTimeout) {
		writeError(w, http.StatusGatewayTimeout, "Command processing timeout")
		return
	}
	if err != nil {
		h.logger.Error("Error submitting create command", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if cmdErr, failed := commandFailure(raw); failed {
		writeErrorDetail(w, http.StatusBadRequest, cmdErr.Error, cmdErr.Detail)
		return
	}

	var result models.CreateTokenResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("Error decoding create result", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDFromPath(w, r)
	if !ok {
		return
	}

	raw, err := h.commands.SubmitCommand(r.Context(), models.CommandRevokeToken, models.RevokeTokenData{
		TokenID: tokenID.String(),
	})
	if errors.Is(err, services.ErrCommandTimeout) {
		writeError(w, http.StatusGatewayTimeout, "Command processing timeout")
		return
	}
	if err != nil {
		h.logger.Error("Error submitting revoke command", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if cmdErr, failed := commandFailure(raw); failed {
		status := http.StatusBadRequest
		if cmdErr.Error == models.ErrCodeTokenNotFound {
			status = http.StatusNotFound
		}
		writeErrorDetail(w, status, cmdErr.Error, cmdErr.Detail)
		return
	}

	var result models.RevokeTokenResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("Error decoding revoke result", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *TokenHandler) Extend(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDFromPath(w, r)
	if !ok {
		return
	}

	var req ExtendTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ExtendDays <= 0 {
		writeError(w, http.StatusBadRequest, "extend_days must be positive")
		return
	}

	raw, err := h.commands.SubmitCommand(r.Context(), models.CommandExtendToken, models.ExtendTokenData{
		TokenID:    tokenID.String(),
		ExtendDays: req.ExtendDays,
	})
	if errors.Is(err, services.ErrCommandTimeout) {
		writeError(w, http.StatusGatewayTimeout, "Command processing timeout")
		return
	}
	if err != nil {
		h.logger.Error("Error submitting extend command", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if cmdErr, failed := commandFailure(raw); failed {
		status := http.StatusBadRequest
		if cmdErr.Error == models.ErrCodeTokenNotFound {
			status = http.StatusNotFound
		}
		writeErrorDetail(w, status, cmdErr.Error, cmdErr.Detail)
		return
	}

	var result models.ExtendTokenResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("Error decoding extend result", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	includeRevoked := r.URL.Query().Get("include_revoked") == "true"

	tokens, err := h.store.List(r.Context(), includeRevoked)
	if err != nil {
		h.logger.Error("Error listing tokens", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tokens == nil {
		tokens = []models.Token{}
	}

	writeJSON(w, http.StatusOK, TokenListResponse{Tokens: tokens, Total: len(tokens)})
}

func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDFromPath(w, r)
	if !ok {
		return
	}

	token, err := h.store.GetByID(r.Context(), tokenID)
	if errors.Is(err, services.ErrTokenNotFound) {
		writeError(w, http.StatusNotFound, "Token not found")
		return
	}
	if err != nil {
		h.logger.Error("Error getting token", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, token)
}

func tokenIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tokenID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid token ID (must be a UUID)")
		return uuid.UUID{}, false
	}
	return tokenID, true
}

func commandFailure(raw json.RawMessage) (models.CommandError, bool) {
	var cmdErr models.CommandError
	if err := json.Unmarshal(raw, &cmdErr); err != nil {
		return models.CommandError{}, false
	}
	return cmdErr, cmdErr.Error != ""
}
