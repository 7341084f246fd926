package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const tokenPrefix = "amp_live_"

// GenerateSecret mints a new unguessable bearer secret and its sha256 hash.
// The secret is returned to the caller exactly once; everything at rest is
// keyed by the hash.
func GenerateSecret() (secret string, hash string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	secret = tokenPrefix + base64.RawURLEncoding.EncodeToString(bytes)
	return secret, HashToken(secret), nil
}

// HashToken is the deterministic one-way mapping from a raw secret to the
// hex sha256 key used by the store, cache, and revocation set.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
