package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards the token-management endpoints with a single admin
// bearer credential. When a bcrypt hash is configured it is preferred, so
// the cleartext credential never has to live in the environment.
type AdminAuth struct {
	token     string
	tokenHash string
}

func NewAdminAuth(token, tokenHash string) *AdminAuth {
	return &AdminAuth{token: token, tokenHash: tokenHash}
}

// Require rejects requests without a valid admin bearer credential.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		if authorization == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeAuthError(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}

		bearer, ok := strings.CutPrefix(authorization, "Bearer ")
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeAuthError(w, http.StatusUnauthorized, "Invalid Authorization header format. Expected: Bearer <token>")
			return
		}

		if !a.matches(bearer) {
			writeAuthError(w, http.StatusForbidden, "Invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) matches(bearer string) bool {
	if a.tokenHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.tokenHash), []byte(bearer)) == nil
	}
	if a.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.token), []byte(bearer)) == 1
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
