package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"blurcast/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey ContextKey = "user"
)

// AuthMiddleware creates an HTTP middleware for JWT authentication
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if disabled
			if !authenticator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, msg := extractToken(r)
			if tokenString == "" {
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			// Validate token
			claims, err := authenticator.ValidateToken(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					http.Error(w, `{"error": "token has expired"}`, http.StatusUnauthorized)
				} else {
					http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
				}
				return
			}

			// Add claims to context
			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Protect authenticates like AuthMiddleware and then rejects tokens that do
// not grant scope with 403
func Protect(authenticator *auth.Authenticator, scope auth.Scope) func(http.Handler) http.Handler {
	authenticate := AuthMiddleware(authenticator)
	return func(next http.Handler) http.Handler {
		return authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Allows(r.Context(), authenticator, scope) {
				http.Error(w, `{"error": "token does not grant `+string(scope)+`"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// Allows reports whether the request behind ctx may act with scope. Everything
// is allowed while authentication is disabled.
func Allows(ctx context.Context, authenticator *auth.Authenticator, scope auth.Scope) bool {
	if !authenticator.IsEnabled() {
		return true
	}
	return GetUserFromContext(ctx).Allows(scope)
}

// extractToken reads a Bearer token from the Authorization header, falling
// back to the token query parameter for WebSocket upgrades, which cannot
// carry custom headers from browsers
func extractToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" && websocketUpgrade(r) {
			return token, ""
		}
		return "", `{"error": "missing authorization header"}`
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", `{"error": "invalid authorization header format"}`
	}
	return parts[1], ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// RequireAuth is a convenience wrapper that returns 401 if user is not in context
func RequireAuth(ctx context.Context) (*auth.Claims, error) {
	claims := GetUserFromContext(ctx)
	if claims == nil {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}
