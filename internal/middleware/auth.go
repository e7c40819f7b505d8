package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/services/auth"
)

type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext extracts the authenticated principal from the
// request context
func PrincipalFromContext(r *http.Request) *auth.Principal {
	principal, ok := r.Context().Value(principalContextKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return principal
}

// UserFromContext extracts the user from the request context
func UserFromContext(r *http.Request) *models.User {
	principal := PrincipalFromContext(r)
	if principal == nil {
		return nil
	}
	return principal.User
}

// Auth creates authentication middleware that validates access tokens and
// their backing sessions. Every authenticated request slides the session's
// 30-day window forward.
func Auth(sessions *auth.SessionLifecycleManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, r, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, r, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			ctx := r.Context()
			principal, err := sessions.Authenticate(ctx, parts[1])
			if err != nil {
				switch auth.KindOf(err) {
				case auth.KindTokenRevoked:
					respondError(w, r, http.StatusUnauthorized, "Session has been revoked")
				case auth.KindTokenExpired:
					respondError(w, r, http.StatusUnauthorized, "Session has expired")
				case auth.KindDatabase:
					log.Printf("Database error during authentication: %v", err)
					respondError(w, r, http.StatusInternalServerError, "Database error")
				default:
					respondError(w, r, http.StatusUnauthorized, "Invalid or expired token")
				}
				return
			}

			ctx = context.WithValue(ctx, principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":    false,
		"error":      message,
		"request_id": RequestIDFromContext(r.Context()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}
