package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthType represents how a user authenticates
type AuthType string

const (
	AuthTypeAnonymous AuthType = "anonymous"
	AuthTypeEmail     AuthType = "email"
	AuthTypeGoogle    AuthType = "google"
	AuthTypeGithub    AuthType = "github"
)

// IsProvider reports whether the auth type is an OAuth provider.
func (a AuthType) IsProvider() bool {
	return a == AuthTypeGoogle || a == AuthTypeGithub
}

// User represents a user in the system. Email is nil for anonymous users
// and globally unique across non-anonymous users when present.
type User struct {
	ID                uuid.UUID `json:"id"`
	AuthType          AuthType  `json:"auth_type"`
	Email             *string   `json:"email,omitempty"`
	LinkedProviders   []string  `json:"linked_providers"`
	DeviceFingerprint *string   `json:"device_fingerprint,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasLinkedProvider reports whether the given provider is already linked.
func (u *User) HasLinkedProvider(provider string) bool {
	for _, p := range u.LinkedProviders {
		if p == provider {
			return true
		}
	}
	return false
}
