package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amplify-platform/authd/internal/models"
)

const (
	cacheKeyPrefix = "token:"
	revokedSetKey  = "revoked_tokens"
)

// CachedToken is the denormalized projection of a token stored under
// token:<hash> in Redis. Presence is advisory only; revocation correctness
// comes from the revocation set, not from the cached revoked flag.
type CachedToken struct {
	TokenID   string
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
	Revoked   bool
	Metadata  string
}

// ProjectionOf builds the cache projection for a durable token row.
func ProjectionOf(t *models.Token) CachedToken {
	metadata := "{}"
	if t.Metadata != nil {
		if b, err := json.Marshal(t.Metadata); err == nil {
			metadata = string(b)
		}
	}
	return CachedToken{
		TokenID:   t.TokenID.String(),
		Name:      t.Name,
		Scopes:    t.Scopes,
		ExpiresAt: t.ExpiresAt,
		Revoked:   t.Revoked,
		Metadata:  metadata,
	}
}

// TokenCache is the volatile cache-aside layer keyed by token hash. Entries
// carry a TTL so staleness is bounded; they are deleted explicitly on revoke
// and extend to force a fresh read.
type TokenCache struct {
	redis RedisClient
	ttl   time.Duration
}

func NewTokenCache(redis RedisClient, ttl time.Duration) *TokenCache {
	return &TokenCache{redis: redis, ttl: ttl}
}

func (c *TokenCache) key(tokenHash string) string {
	return cacheKeyPrefix + tokenHash
}

func (c *TokenCache) Put(ctx context.Context, tokenHash string, entry CachedToken) error {
	expiresAt := ""
	if entry.ExpiresAt != nil {
		expiresAt = entry.ExpiresAt.Format(time.RFC3339Nano)
	}
	revoked := "0"
	if entry.Revoked {
		revoked = "1"
	}
	metadata := entry.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	fields := map[string]string{
		"token_id":   entry.TokenID,
		"name":       entry.Name,
		"scopes":     joinScopes(entry.Scopes),
		"expires_at": expiresAt,
		"revoked":    revoked,
		"metadata":   metadata,
	}

	key := c.key(tokenHash)
	if err := c.redis.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := c.redis.Expire(ctx, key, c.ttl); err != nil {
		return fmt.Errorf("setting cache ttl: %w", err)
	}
	return nil
}

func (c *TokenCache) Get(ctx context.Context, tokenHash string) (*CachedToken, bool, error) {
	fields, err := c.redis.HGetAll(ctx, c.key(tokenHash))
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	entry := &CachedToken{
		TokenID:  fields["token_id"],
		Name:     fields["name"],
		Scopes:   splitScopes(fields["scopes"]),
		Revoked:  fields["revoked"] == "1",
		Metadata: fields["metadata"],
	}
	if raw := fields["expires_at"]; raw != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, false, fmt.Errorf("parsing cached expiry %q: %w", raw, err)
		}
		entry.ExpiresAt = &expiresAt
	}
	return entry, true, nil
}

func (c *TokenCache) Delete(ctx context.Context, tokenHash string) error {
	if err := c.redis.Del(ctx, c.key(tokenHash)); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, ",")
}

func splitScopes(joined string) []string {
	if joined == "" {
		return nil
	}
	var scopes []string
	for _, s := range strings.Split(joined, ",") {
		if s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// RevocationSet is the authoritative, append-only record of revoked token
// hashes. Once a hash is added it is never removed and never expires, which
// is what makes the revocation check immune to cache staleness.
type RevocationSet struct {
	redis RedisClient
}

func NewRevocationSet(redis RedisClient) *RevocationSet {
	return &RevocationSet{redis: redis}
}

func (r *RevocationSet) Add(ctx context.Context, tokenHash string) error {
	if err := r.redis.SAdd(ctx, revokedSetKey, tokenHash); err != nil {
		return fmt.Errorf("adding to revocation set: %w", err)
	}
	return nil
}

func (r *RevocationSet) Contains(ctx context.Context, tokenHash string) (bool, error) {
	member, err := r.redis.SIsMember(ctx, revokedSetKey, tokenHash)
	if err != nil {
		return false, fmt.Errorf("checking revocation set: %w", err)
	}
	return member, nil
}
