package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CommandCreateToken CommandType = "create_token"
	CommandRevokeToken CommandType = "revoke_token"
	CommandExtendToken CommandType = "extend_token"
)

// Command is the wire format pushed onto the serialized write queue. Data is
// left raw so the processor can decode it per type.
type Command struct {
	Type        CommandType     `json:"type"`
	Data        json.RawMessage `json:"data"`
	ResponseKey string          `json:"response_key"`
}

type CreateTokenData struct {
	Name     string                 `json:"name"`
	Scopes   []string               `json:"scopes"`
	TTLDays  *int                   `json:"ttl_days,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type RevokeTokenData struct {
	TokenID string `json:"token_id"`
}

type ExtendTokenData struct {
	TokenID    string `json:"token_id"`
	ExtendDays int    `json:"extend_days"`
}

// CreateTokenResult carries the raw secret back to the submitter. This is
// the only place the cleartext token ever appears.
type CreateTokenResult struct {
	Token     string     `json:"token"`
	TokenID   string     `json:"token_id"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type RevokeTokenResult struct {
	Success   bool      `json:"success"`
	TokenID   string    `json:"token_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

type ExtendTokenResult struct {
	Success   bool      `json:"success"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CommandError is the failure shape written to a rendezvous slot when a
// handler reports an error instead of a payload.
type CommandError struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}
