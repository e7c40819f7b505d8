package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionTTL is the sliding session window. Every authenticated call and
// every explicit extend pushes the expiry forward by this much.
const SessionTTL = 30 * 24 * time.Hour

// Session represents one active session per device.
type Session struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	DeviceToken    string    `json:"device_token"`
	StartedAt      time.Time `json:"session_started_at"`
	ExpiresAt      time.Time `json:"session_expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session is usable at the given time.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
