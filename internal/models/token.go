package models

import (
	"time"

	"github.com/google/uuid"
)

// Token is the durable record for an issued bearer credential. The raw
// secret is never stored; only its sha256 hash.
type Token struct {
	TokenID   uuid.UUID              `json:"token_id"`
	TokenHash string                 `json:"-"` // Never expose hash in JSON
	Name      string                 `json:"name"`
	Scopes    []string               `json:"scopes"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt *time.Time             `json:"expires_at"`
	Revoked   bool                   `json:"revoked"`
	RevokedAt *time.Time             `json:"revoked_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Expired reports whether the token has an expiry in the past.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

type CreateTokenParams struct {
	TokenHash string
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
	Metadata  map[string]interface{}
}

// Validation error codes. These are outcomes, not faults: the validation
// path returns them as data and never fails a request for them.
const (
	ErrCodeTokenNotFound      = "token_not_found"
	ErrCodeTokenRevoked       = "token_revoked"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeInsufficientScopes = "insufficient_scopes"
	ErrCodeCommandFailed      = "command_failed"
	ErrCodeUnknownCommand     = "unknown_command"
)

// ValidationResult is the structured outcome of validating a bearer token.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Scopes  []string `json:"scopes,omitempty"`
	TokenID string   `json:"token_id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Error   string   `json:"error,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}
