package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/quantpulse/identity-api/internal/models"
)

// SessionRepository handles session database operations
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, device_token, session_started_at, session_expires_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.DeviceToken,
		session.StartedAt,
		session.ExpiresAt,
		session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session := &models.Session{}
	query := `
		SELECT id, user_id, device_token, session_started_at, session_expires_at, last_activity_at, revoked_at
		FROM sessions
		WHERE id = $1
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.DeviceToken,
		&session.StartedAt,
		&session.ExpiresAt,
		&session.LastActivityAt,
		&session.RevokedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// Touch slides the session window: updates last_activity_at and pushes
// session_expires_at to now + SessionTTL. No-op for revoked or already
// expired sessions.
func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE sessions
		SET last_activity_at = $2, session_expires_at = $3
		WHERE id = $1 AND revoked_at IS NULL AND session_expires_at > $2
	`
	result, err := r.db.ExecContext(ctx, query, id, now, now.Add(models.SessionTTL))
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session not active: %w", sql.ErrNoRows)
	}

	return nil
}

// Revoke invalidates a single session ("this device" sign-out)
func (r *SessionRepository) Revoke(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE sessions
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session not found: %w", sql.ErrNoRows)
	}

	return nil
}

// RevokeAllForUsers invalidates every active session for the given users.
// Administrative bulk revocation; returns the number of sessions revoked.
func (r *SessionRepository) RevokeAllForUsers(ctx context.Context, userIDs []uuid.UUID, now time.Time) (int, error) {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	query := `
		UPDATE sessions
		SET revoked_at = $2
		WHERE user_id = ANY($1::uuid[]) AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, pq.Array(ids), now)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk revoke sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}
