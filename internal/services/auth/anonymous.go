package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/token"
	"go.uber.org/zap"
)

// AnonymousIssuer creates a user+session pair for unauthenticated visitors.
type AnonymousIssuer struct {
	users    UserStore
	sessions SessionStore
	signer   *token.Signer
	retry    database.RetryPolicy
	log      *zap.Logger

	// FingerprintIdempotent reuses the most recent anonymous user for a
	// supplied device fingerprint instead of minting a new identity.
	// Policy is configurable; default is a fresh identity per call.
	FingerprintIdempotent bool

	now func() time.Time
}

// NewAnonymousIssuer creates an anonymous session issuer
func NewAnonymousIssuer(users UserStore, sessions SessionStore, signer *token.Signer, retry database.RetryPolicy, log *zap.Logger) *AnonymousIssuer {
	return &AnonymousIssuer{
		users:    users,
		sessions: sessions,
		signer:   signer,
		retry:    retry,
		log:      log,
		now:      time.Now,
	}
}

// AnonymousSession is the result of creating an anonymous identity.
type AnonymousSession struct {
	User    *models.User
	Session *models.Session
	Tokens  *token.SessionTokens
}

// Create mints an anonymous user and a 30-day session for it.
func (i *AnonymousIssuer) Create(ctx context.Context, fingerprint *string) (*AnonymousSession, error) {
	now := i.now().UTC()

	var user *models.User
	if i.FingerprintIdempotent && fingerprint != nil && *fingerprint != "" {
		existing, err := i.users.GetLatestAnonymousByFingerprint(ctx, *fingerprint)
		switch {
		case err == nil:
			user = existing
		case errors.Is(err, sql.ErrNoRows):
			// No prior identity for this device; fall through to create.
		default:
			return nil, Wrap(KindDatabase, "failed to look up device identity", err)
		}
	}

	if user == nil {
		user = &models.User{
			ID:                uuid.New(),
			AuthType:          models.AuthTypeAnonymous,
			LinkedProviders:   []string{},
			DeviceFingerprint: fingerprint,
		}
		err := i.retry.Do(ctx, func(ctx context.Context) error {
			return i.users.Create(ctx, user)
		})
		if err != nil {
			return nil, Wrap(KindDatabase, "failed to create anonymous user", err)
		}
	}

	session := newSession(user.ID, deviceTokenFrom(fingerprint), now)
	err := i.retry.Do(ctx, func(ctx context.Context) error {
		return i.sessions.Create(ctx, session)
	})
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to create session", err)
	}

	tokens, err := i.signer.IssueSessionTokens(user, session)
	if err != nil {
		return nil, Wrap(KindSecret, "failed to sign session tokens", err)
	}

	i.log.Info("anonymous_session_created",
		zap.String("user_id", user.ID.String()),
		zap.Bool("fingerprint_reuse", i.FingerprintIdempotent && fingerprint != nil),
	)

	return &AnonymousSession{User: user, Session: session, Tokens: tokens}, nil
}

// newSession builds a session with the sliding 30-day window.
func newSession(userID uuid.UUID, deviceToken string, now time.Time) *models.Session {
	return &models.Session{
		ID:             uuid.New(),
		UserID:         userID,
		DeviceToken:    deviceToken,
		StartedAt:      now,
		ExpiresAt:      now.Add(models.SessionTTL),
		LastActivityAt: now,
	}
}

// deviceTokenFrom uses the supplied fingerprint or generates a random one.
func deviceTokenFrom(fingerprint *string) string {
	if fingerprint != nil && *fingerprint != "" {
		return *fingerprint
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
