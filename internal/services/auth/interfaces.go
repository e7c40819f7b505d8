package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
)

// Store interfaces implemented by internal/database repositories. Services
// depend on these so tests can substitute in-memory fakes with the same
// conditional-write semantics.

// UserStore persists users
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetLatestAnonymousByFingerprint(ctx context.Context, fingerprint string) (*models.User, error)
	AddLinkedProvider(ctx context.Context, id uuid.UUID, provider string) error
}

// SessionStore persists sessions
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Touch(ctx context.Context, id uuid.UUID, now time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, now time.Time) error
	RevokeAllForUsers(ctx context.Context, userIDs []uuid.UUID, now time.Time) (int, error)
}

// MagicLinkStore persists magic-link tokens. Consume must be a conditional
// update returning true for exactly one caller per token.
type MagicLinkStore interface {
	Issue(ctx context.Context, token *models.MagicLinkToken) error
	GetByID(ctx context.Context, tokenID uuid.UUID) (*models.MagicLinkToken, error)
	Consume(ctx context.Context, tokenID uuid.UUID) (bool, error)
	MarkExpired(ctx context.Context, tokenID uuid.UUID, now time.Time) error
}

// MergeRecordStore persists write-once merge records. CreateIfAbsent must
// return false (not an error) when the pair already has a record.
type MergeRecordStore interface {
	Get(ctx context.Context, anonymousUserID, targetUserID uuid.UUID) (*models.MergeRecord, error)
	GetLatestForTarget(ctx context.Context, targetUserID uuid.UUID) (*models.MergeRecord, error)
	CreateIfAbsent(ctx context.Context, record *models.MergeRecord) (bool, error)
}

// DashboardStore copies anonymous-owned items. Copies are idempotent
// upserts keyed by the original item id.
type DashboardStore interface {
	CopyConfigurations(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error)
	CopyAlertRules(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error)
	CopyPreferences(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error)
}

// Mailer dispatches the magic-link email. The production implementation
// enqueues to RabbitMQ; delivery happens in the worker.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, linkURL string, expiresAt time.Time) error
}
