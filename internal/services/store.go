package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/amplify-platform/authd/internal/models"
)

var ErrTokenNotFound = errors.New("token not found")

const tokenSelectColumns = `
	t.token_id,
	t.name,
	t.created_at,
	t.expires_at,
	t.revoked,
	t.revoked_at,
	t.metadata,
	array_agg(ts.scope) FILTER (WHERE ts.scope IS NOT NULL) AS scopes`

// TokenStore owns the durable token and scope rows. It is the single source
// of truth for existence, expiration, and revocation state; only the command
// processor calls its mutating methods.
type TokenStore struct {
	db DB
}

func NewTokenStore(db DB) *TokenStore {
	return &TokenStore{db: db}
}

// Create inserts the token and its scopes in one transaction and returns the
// stored row. The raw secret never reaches this layer, only its hash.
func (s *TokenStore) Create(ctx context.Context, params models.CreateTokenParams) (*models.Token, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	token := &models.Token{
		TokenHash: params.TokenHash,
		Name:      params.Name,
		Scopes:    params.Scopes,
		ExpiresAt: params.ExpiresAt,
		Metadata:  metadata,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO tokens (token_hash, name, expires_at, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_id, created_at`,
		params.TokenHash, params.Name, params.ExpiresAt, metadata,
	).Scan(&token.TokenID, &token.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting token: %w", err)
	}

	for _, scope := range params.Scopes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO token_scopes (token_id, scope) VALUES ($1, $2)`,
			token.TokenID, scope,
		); err != nil {
			return nil, fmt.Errorf("inserting scope %q: %w", scope, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing token insert: %w", err)
	}

	return token, nil
}

// Revoke marks the token revoked and returns its hash so the caller can
// invalidate the cache and append to the revocation set. Revoking an
// already-revoked token succeeds and keeps the original revocation time.
func (s *TokenStore) Revoke(ctx context.Context, tokenID uuid.UUID) (string, time.Time, error) {
	var tokenHash string
	var revokedAt time.Time

	err := s.db.QueryRow(ctx,
		`UPDATE tokens
		 SET revoked = TRUE, revoked_at = COALESCE(revoked_at, NOW())
		 WHERE token_id = $1
		 RETURNING token_hash, revoked_at`,
		tokenID,
	).Scan(&tokenHash, &revokedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, ErrTokenNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("revoking token: %w", err)
	}

	return tokenHash, revokedAt, nil
}

// Extend pushes the expiry forward atomically in SQL. The anchor is
// whichever of the current expiry and now is later, so extending an expired
// token resurrects it from now rather than from its stale expiry, and
// repeated extends are additive.
func (s *TokenStore) Extend(ctx context.Context, tokenID uuid.UUID, extendDays int) (string, time.Time, error) {
	var tokenHash string
	var expiresAt time.Time

	err := s.db.QueryRow(ctx,
		`UPDATE tokens
		 SET expires_at = GREATEST(COALESCE(expires_at, NOW()), NOW()) + make_interval(days => $2)
		 WHERE token_id = $1
		 RETURNING token_hash, expires_at`,
		tokenID, extendDays,
	).Scan(&tokenHash, &expiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, ErrTokenNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("extending token: %w", err)
	}

	return tokenHash, expiresAt, nil
}

// GetByHash loads a token with its scopes for the validation cache-miss path.
func (s *TokenStore) GetByHash(ctx context.Context, tokenHash string) (*models.Token, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s, t.token_hash
		 FROM tokens t
		 LEFT JOIN token_scopes ts ON t.token_id = ts.token_id
		 WHERE t.token_hash = $1
		 GROUP BY t.token_id`, tokenSelectColumns),
		tokenHash,
	)

	token, err := scanToken(row, true)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// GetByID loads a token for the admin read endpoints.
func (s *TokenStore) GetByID(ctx context.Context, tokenID uuid.UUID) (*models.Token, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s
		 FROM tokens t
		 LEFT JOIN token_scopes ts ON t.token_id = ts.token_id
		 WHERE t.token_id = $1
		 GROUP BY t.token_id`, tokenSelectColumns),
		tokenID,
	)

	return scanToken(row, false)
}

// List returns all tokens, newest first, optionally including revoked ones.
func (s *TokenStore) List(ctx context.Context, includeRevoked bool) ([]models.Token, error) {
	query := fmt.Sprintf(
		`SELECT %s
		 FROM tokens t
		 LEFT JOIN token_scopes ts ON t.token_id = ts.token_id`, tokenSelectColumns)
	if !includeRevoked {
		query += ` WHERE t.revoked = FALSE`
	}
	query += ` GROUP BY t.token_id ORDER BY t.created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var t models.Token
		var scopes []string
		if err := rows.Scan(&t.TokenID, &t.Name, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &t.Metadata, &scopes); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		t.Scopes = scopes
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}

	return tokens, nil
}

// ListActive returns every non-revoked, non-expired token with its hash and
// scopes. Used once at startup to warm the validation cache.
func (s *TokenStore) ListActive(ctx context.Context) ([]models.Token, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s, t.token_hash
		 FROM tokens t
		 LEFT JOIN token_scopes ts ON t.token_id = ts.token_id
		 WHERE t.revoked = FALSE
		   AND (t.expires_at IS NULL OR t.expires_at > NOW())
		 GROUP BY t.token_id`, tokenSelectColumns))
	if err != nil {
		return nil, fmt.Errorf("querying active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var t models.Token
		var scopes []string
		if err := rows.Scan(&t.TokenID, &t.Name, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &t.Metadata, &scopes, &t.TokenHash); err != nil {
			return nil, fmt.Errorf("scanning active token: %w", err)
		}
		t.Scopes = scopes
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active tokens: %w", err)
	}

	return tokens, nil
}

func scanToken(row Row, withHash bool) (*models.Token, error) {
	var t models.Token
	var scopes []string

	dest := []any{&t.TokenID, &t.Name, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &t.Metadata, &scopes}
	if withHash {
		dest = append(dest, &t.TokenHash)
	}

	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	t.Scopes = scopes
	return &t, nil
}
