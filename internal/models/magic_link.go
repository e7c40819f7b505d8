package models

import (
	"time"

	"github.com/google/uuid"
)

// MagicLinkTTL is how long an emailed link stays valid.
const MagicLinkTTL = time.Hour

// TokenStatus represents the lifecycle state of a magic-link token.
// A token only ever moves pending -> used|expired|superseded.
type TokenStatus string

const (
	TokenStatusPending    TokenStatus = "pending"
	TokenStatusUsed       TokenStatus = "used"
	TokenStatusExpired    TokenStatus = "expired"
	TokenStatusSuperseded TokenStatus = "superseded"
)

// MagicLinkToken is a single-use emailed authentication token. At most one
// pending token exists per email; issuing a new one supersedes the old.
type MagicLinkToken struct {
	TokenID         uuid.UUID   `json:"token_id"`
	Email           string      `json:"email"`
	Signature       string      `json:"signature"`
	Status          TokenStatus `json:"status"`
	AnonymousUserID *uuid.UUID  `json:"anonymous_user_id,omitempty"`
	IssuedAt        time.Time   `json:"issued_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
}

// Expired reports whether the token's validity window has elapsed.
func (t *MagicLinkToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
