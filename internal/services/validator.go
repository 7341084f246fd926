package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amplify-platform/authd/internal/logging"
	"github.com/amplify-platform/authd/internal/models"
)

// Validator is the read-hot path invoked per authenticated request. It
// performs no writes beyond idempotent cache repopulation and needs no
// coordination with the command processor, so any number of validations may
// run concurrently.
type Validator struct {
	store   *TokenStore
	cache   *TokenCache
	revoked *RevocationSet
	logger  *logging.Logger
}

func NewValidator(store *TokenStore, cache *TokenCache, revoked *RevocationSet, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.Default
	}
	return &Validator{
		store:   store,
		cache:   cache,
		revoked: revoked,
		logger:  logger.Component("validator"),
	}
}

// Validate checks a raw token against a required-scope set. Validation
// outcomes are returned as data; the error return is reserved for
// infrastructure faults on the layers this path had to touch.
func (v *Validator) Validate(ctx context.Context, rawToken string, requiredScopes []string) (*models.ValidationResult, error) {
	tokenHash := HashToken(rawToken)

	// The revocation set comes first, always. It is append-only and never
	// evicted, so it is the one check that cannot be stale.
	isRevoked, err := v.revoked.Contains(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if isRevoked {
		return &models.ValidationResult{
			Valid:  false,
			Error:  models.ErrCodeTokenRevoked,
			Detail: "Token has been revoked",
		}, nil
	}

	entry, hit, err := v.cache.Get(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if hit {
		return validateProjection(entry, requiredScopes), nil
	}

	token, err := v.store.GetByHash(ctx, tokenHash)
	if errors.Is(err, ErrTokenNotFound) {
		return &models.ValidationResult{
			Valid:  false,
			Error:  models.ErrCodeTokenNotFound,
			Detail: "Invalid token",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// Repopulate for the next caller. Last-write-wins on identical
	// projections is harmless, and a failed write only costs another miss.
	projection := ProjectionOf(token)
	if err := v.cache.Put(ctx, tokenHash, projection); err != nil {
		v.logger.Warn("Cache repopulation failed", map[string]interface{}{
			"token_id": token.TokenID.String(),
			"error":    err.Error(),
		})
	}

	return validateProjection(&projection, requiredScopes), nil
}

// WarmCache bulk-loads every active token into the cache so a restart does
// not stampede the store. Purely a latency optimization; the miss path
// self-heals if it fails.
func (v *Validator) WarmCache(ctx context.Context) (int, error) {
	tokens, err := v.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active tokens: %w", err)
	}

	warmed := 0
	for i := range tokens {
		if err := v.cache.Put(ctx, tokens[i].TokenHash, ProjectionOf(&tokens[i])); err != nil {
			v.logger.Warn("Cache warm entry failed", map[string]interface{}{
				"token_id": tokens[i].TokenID.String(),
				"error":    err.Error(),
			})
			continue
		}
		warmed++
	}

	v.logger.Info("Cache warmed", map[string]interface{}{"tokens": warmed})
	return warmed, nil
}

func validateProjection(entry *CachedToken, requiredScopes []string) *models.ValidationResult {
	if entry.Revoked {
		return &models.ValidationResult{
			Valid:  false,
			Error:  models.ErrCodeTokenRevoked,
			Detail: "Token has been revoked",
		}
	}

	if entry.ExpiresAt != nil && time.Now().After(*entry.ExpiresAt) {
		return &models.ValidationResult{
			Valid:  false,
			Error:  models.ErrCodeTokenExpired,
			Detail: fmt.Sprintf("Token expired at %s", entry.ExpiresAt.Format(time.RFC3339)),
		}
	}

	var missing []string
	for _, required := range requiredScopes {
		found := false
		for _, held := range entry.Scopes {
			if held == required {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return &models.ValidationResult{
			Valid:  false,
			Error:  models.ErrCodeInsufficientScopes,
			Detail: fmt.Sprintf("Missing scopes: %v", missing),
		}
	}

	return &models.ValidationResult{
		Valid:   true,
		Scopes:  entry.Scopes,
		TokenID: entry.TokenID,
		Name:    entry.Name,
	}
}
