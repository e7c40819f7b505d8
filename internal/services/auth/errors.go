package auth

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error categories this service surfaces.
// The HTTP boundary matches on it exhaustively; adding a kind without a
// mapping there is a bug.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindInvalidRefreshToken ErrorKind = "invalid_refresh_token"
	KindTokenRevoked        ErrorKind = "token_revoked"
	KindTokenExpired        ErrorKind = "token_expired"
	KindTokenUsed           ErrorKind = "token_used"
	KindTokenInvalidated    ErrorKind = "token_invalidated"
	KindInvalidSignature    ErrorKind = "invalid_signature"
	KindInvalidCode         ErrorKind = "invalid_code"
	KindInvalidProvider     ErrorKind = "invalid_provider"
	KindConflict            ErrorKind = "conflict"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindForbidden           ErrorKind = "forbidden"
	KindNotFound            ErrorKind = "not_found"
	KindRateLimited         ErrorKind = "rate_limited"
	KindDatabase            ErrorKind = "database_error"
	KindSecret              ErrorKind = "secret_error"
	KindInternal            ErrorKind = "internal_error"
)

// Error carries an ErrorKind plus a caller-safe message. The wrapped cause
// is logged server-side and never rendered to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a terminal error of the given kind
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and caller-safe message to an underlying cause
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to internal_error.
func KindOf(err error) ErrorKind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

// MessageOf extracts the caller-safe message from err.
func MessageOf(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return "An unexpected error occurred"
}
