package middleware

import (
	"context"

	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/services/auth"
)

// SetPrincipalInContext is a helper function for testing - sets the
// authenticated principal in context. This is exported so other test
// packages can use it.
func SetPrincipalInContext(ctx context.Context, principal *auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// SetUserInContext is a helper function for testing - wraps the user in a
// principal and sets it in context
func SetUserInContext(ctx context.Context, user *models.User) context.Context {
	return SetPrincipalInContext(ctx, &auth.Principal{User: user})
}

// SetRequestIDInContext is a helper function for testing - assigns a
// request correlation id as the RequestID middleware would.
func SetRequestIDInContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}
