package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
)

// MagicLinkRepository handles magic-link token database operations
type MagicLinkRepository struct {
	db *DB
}

// NewMagicLinkRepository creates a new magic-link repository
func NewMagicLinkRepository(db *DB) *MagicLinkRepository {
	return &MagicLinkRepository{db: db}
}

// Issue writes a new pending token and, in the same transaction, marks any
// still-pending token for the same email as superseded. Keeps the "at most
// one pending token per email" invariant.
func (r *MagicLinkRepository) Issue(ctx context.Context, token *models.MagicLinkToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			_ = rbErr
		}
	}()

	supersede := `
		UPDATE magic_link_tokens
		SET status = 'superseded'
		WHERE email = $1 AND status = 'pending'
	`
	if _, err := tx.ExecContext(ctx, supersede, token.Email); err != nil {
		return fmt.Errorf("failed to supersede pending tokens: %w", err)
	}

	insert := `
		INSERT INTO magic_link_tokens (token_id, email, signature, status, anonymous_user_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, insert,
		token.TokenID,
		token.Email,
		token.Signature,
		token.Status,
		token.AnonymousUserID,
		token.IssuedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create magic link token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit magic link issue: %w", err)
	}

	return nil
}

// GetByID retrieves a magic-link token by ID
func (r *MagicLinkRepository) GetByID(ctx context.Context, tokenID uuid.UUID) (*models.MagicLinkToken, error) {
	token := &models.MagicLinkToken{}
	query := `
		SELECT token_id, email, signature, status, anonymous_user_id, issued_at, expires_at
		FROM magic_link_tokens
		WHERE token_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(
		&token.TokenID,
		&token.Email,
		&token.Signature,
		&token.Status,
		&token.AnonymousUserID,
		&token.IssuedAt,
		&token.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("magic link token not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get magic link token: %w", err)
	}

	return token, nil
}

// Consume conditionally marks a pending token as used. Returns true only
// for the single caller whose update actually transitions the row; under
// concurrent verification every other caller sees false.
func (r *MagicLinkRepository) Consume(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	query := `
		UPDATE magic_link_tokens
		SET status = 'used'
		WHERE token_id = $1 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to consume magic link token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// MarkExpired transitions a pending token whose window elapsed. Losing this
// race to a concurrent verifier is fine; the row only ever leaves pending.
func (r *MagicLinkRepository) MarkExpired(ctx context.Context, tokenID uuid.UUID, now time.Time) error {
	query := `
		UPDATE magic_link_tokens
		SET status = 'expired'
		WHERE token_id = $1 AND status = 'pending' AND expires_at < $2
	`
	if _, err := r.db.ExecContext(ctx, query, tokenID, now); err != nil {
		return fmt.Errorf("failed to mark magic link token expired: %w", err)
	}
	return nil
}

// ExpireOverdue sweeps every pending token whose window elapsed. Run
// periodically by the worker; returns the number of tokens expired.
func (r *MagicLinkRepository) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE magic_link_tokens
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue magic link tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}
