package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/token"
	"go.uber.org/zap"
)

// SessionLifecycleManager handles sign-out, sliding extension, token
// refresh, and administrative bulk revocation.
type SessionLifecycleManager struct {
	users    UserStore
	sessions SessionStore
	signer   *token.Signer
	retry    database.RetryPolicy
	log      *zap.Logger
	now      func() time.Time
}

// NewSessionLifecycleManager creates a session lifecycle manager
func NewSessionLifecycleManager(users UserStore, sessions SessionStore, signer *token.Signer, retry database.RetryPolicy, log *zap.Logger) *SessionLifecycleManager {
	return &SessionLifecycleManager{
		users:    users,
		sessions: sessions,
		signer:   signer,
		retry:    retry,
		log:      log,
		now:      time.Now,
	}
}

// Principal is the authenticated caller resolved from an access token.
type Principal struct {
	User    *models.User
	Session *models.Session
	Claims  *token.Claims
}

// Authenticate validates an access token and its backing session, then
// slides the 30-day window forward. Called by the auth middleware on every
// bearer request.
func (m *SessionLifecycleManager) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := m.signer.Parse(accessToken, token.UseAccess)
	if err != nil {
		return nil, Wrap(KindUnauthorized, "invalid access token", err)
	}

	session, user, err := m.loadLiveSession(ctx, claims.SessionID, claims.UserID)
	if err != nil {
		return nil, err
	}

	// Auto-extend. A failed touch means the session was revoked or expired
	// between the read and the write; treat it as unauthorized.
	now := m.now().UTC()
	if err := m.sessions.Touch(ctx, session.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, E(KindUnauthorized, "session is no longer active")
		}
		return nil, Wrap(KindDatabase, "failed to extend session", err)
	}
	session.LastActivityAt = now
	session.ExpiresAt = now.Add(models.SessionTTL)

	return &Principal{User: user, Session: session, Claims: claims}, nil
}

// SignOut revokes the single session bound to the presented token. Other
// devices' sessions are untouched.
func (m *SessionLifecycleManager) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	now := m.now().UTC()
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		return m.sessions.Revoke(ctx, sessionID, now)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Wrap(KindDatabase, "failed to revoke session", err)
	}
	m.log.Info("session_signed_out", zap.String("session_id", sessionID.String()))
	return nil
}

// Extend explicitly resets the session expiry to now + 30 days.
func (m *SessionLifecycleManager) Extend(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	now := m.now().UTC()
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		return m.sessions.Touch(ctx, sessionID, now)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, E(KindUnauthorized, "session is no longer active")
	}
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to extend session", err)
	}

	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to load session", err)
	}
	return session, nil
}

// Refresh exchanges a valid refresh token for a fresh id/access pair. The
// refresh token itself is never rotated, so concurrent refreshes with the
// same token both succeed.
func (m *SessionLifecycleManager) Refresh(ctx context.Context, refreshToken string) (*token.SessionTokens, error) {
	claims, err := m.signer.Parse(refreshToken, token.UseRefresh)
	if err != nil {
		return nil, Wrap(KindInvalidRefreshToken, "invalid refresh token", err)
	}

	session, user, err := m.loadLiveSession(ctx, claims.SessionID, claims.UserID)
	if err != nil {
		return nil, err
	}

	tokens, err := m.signer.IssueSessionTokens(user, session)
	if err != nil {
		return nil, Wrap(KindSecret, "failed to sign session tokens", err)
	}
	// Per contract the refresh response carries no refresh_token.
	tokens.RefreshToken = ""
	tokens.ExpiresIn = int(token.AccessTokenTTL.Seconds())

	m.log.Info("tokens_refreshed",
		zap.String("user_id", user.ID.String()),
		zap.String("session_id", session.ID.String()),
	)
	return tokens, nil
}

// BulkRevoke invalidates every active session for the given users and
// returns how many sessions were revoked.
func (m *SessionLifecycleManager) BulkRevoke(ctx context.Context, userIDs []uuid.UUID) (int, error) {
	if len(userIDs) == 0 {
		return 0, E(KindValidation, "user_ids must not be empty")
	}
	now := m.now().UTC()

	var revoked int
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = m.sessions.RevokeAllForUsers(ctx, userIDs, now)
		return err
	})
	if err != nil {
		return 0, Wrap(KindDatabase, "failed to revoke sessions", err)
	}

	m.log.Info("sessions_bulk_revoked",
		zap.Int("user_count", len(userIDs)),
		zap.Int("revoked_sessions", revoked),
	)
	return revoked, nil
}

func (m *SessionLifecycleManager) loadLiveSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, *models.User, error) {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, E(KindUnauthorized, "session not found")
	}
	if err != nil {
		return nil, nil, Wrap(KindDatabase, "failed to load session", err)
	}
	if session.UserID != userID {
		return nil, nil, E(KindUnauthorized, "session does not belong to this user")
	}

	now := m.now().UTC()
	if session.RevokedAt != nil {
		return nil, nil, E(KindTokenRevoked, "session has been revoked")
	}
	if !session.Active(now) {
		return nil, nil, E(KindTokenExpired, "session has expired")
	}

	user, err := m.users.GetByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, E(KindUnauthorized, "user not found")
	}
	if err != nil {
		return nil, nil, Wrap(KindDatabase, "failed to load user", err)
	}
	return session, user, nil
}
