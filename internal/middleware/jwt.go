package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// 1. Context keys (exported so the bridge can read them)
type contextKey string

const (
	UserKey  contextKey = "uid"
	TokenKey contextKey = "token"
)

// 2. What we need from the auth service. Keeps 'middleware' decoupled from 'auth'.
type TokenValidator interface {
	ValidateUID(ctx context.Context, token string) (string, error)
}

// 3. The middleware
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// TokenFromRequest reads a bearer token from the Authorization header, then
// from the ?token= query parameter (browsers can't set headers on WebSocket
// upgrades).
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Optional lets anonymous requests through, but rejects a request that
// carries an invalid token. A valid token lands in the context next to its
// user id.
func (am *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		uid, err := am.validator.ValidateUID(r.Context(), tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, uid)
		ctx = context.WithValue(ctx, TokenKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Token returns the validated token stored by Optional, if any.
func Token(ctx context.Context) string {
	t, _ := ctx.Value(TokenKey).(string)
	return t
}
