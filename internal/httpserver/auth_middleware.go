package httpserver

import (
	"context"
	"net/http"
	"strings"

	"dmcore/internal/security"
)

type contextKey string

const userContextKey contextKey = "currentUserID"

// WithUserID returns a new context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// CurrentUserID extracts the authenticated user id from the request context.
func CurrentUserID(r *http.Request) string {
	id, _ := r.Context().Value(userContextKey).(string)
	return id
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < len("bearer ") || !strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("bearer "):])
}

// AuthMiddleware validates the Bearer token and attaches its subject to the context.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := BearerToken(r)
			if tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			sub, err := tokens.Subject(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}
