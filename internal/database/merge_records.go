package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
)

// MergeRecordRepository handles merge record database operations
type MergeRecordRepository struct {
	db *DB
}

// NewMergeRecordRepository creates a new merge record repository
func NewMergeRecordRepository(db *DB) *MergeRecordRepository {
	return &MergeRecordRepository{db: db}
}

// Get retrieves the merge record for a pair, or wraps sql.ErrNoRows
func (r *MergeRecordRepository) Get(ctx context.Context, anonymousUserID, targetUserID uuid.UUID) (*models.MergeRecord, error) {
	record := &models.MergeRecord{}
	query := `
		SELECT anonymous_user_id, target_user_id, configurations_merged, alert_rules_merged, preferences_merged, merged_at
		FROM merge_records
		WHERE anonymous_user_id = $1 AND target_user_id = $2
	`

	err := r.db.QueryRowContext(ctx, query, anonymousUserID, targetUserID).Scan(
		&record.AnonymousUserID,
		&record.TargetUserID,
		&record.ItemsMerged.Configurations,
		&record.ItemsMerged.AlertRules,
		&record.ItemsMerged.Preferences,
		&record.MergedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("merge record not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merge record: %w", err)
	}

	return record, nil
}

// GetLatestForTarget returns the most recent merge into a user, for the
// merge-status endpoint.
func (r *MergeRecordRepository) GetLatestForTarget(ctx context.Context, targetUserID uuid.UUID) (*models.MergeRecord, error) {
	record := &models.MergeRecord{}
	query := `
		SELECT anonymous_user_id, target_user_id, configurations_merged, alert_rules_merged, preferences_merged, merged_at
		FROM merge_records
		WHERE target_user_id = $1
		ORDER BY merged_at DESC
		LIMIT 1
	`

	err := r.db.QueryRowContext(ctx, query, targetUserID).Scan(
		&record.AnonymousUserID,
		&record.TargetUserID,
		&record.ItemsMerged.Configurations,
		&record.ItemsMerged.AlertRules,
		&record.ItemsMerged.Preferences,
		&record.MergedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("merge record not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merge record: %w", err)
	}

	return record, nil
}

// CreateIfAbsent inserts the write-once merge record. Returns false without
// error when a concurrent merge of the same pair got there first; the caller
// must then discard its counts and re-read the winner's record.
func (r *MergeRecordRepository) CreateIfAbsent(ctx context.Context, record *models.MergeRecord) (bool, error) {
	query := `
		INSERT INTO merge_records (anonymous_user_id, target_user_id, configurations_merged, alert_rules_merged, preferences_merged, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (anonymous_user_id, target_user_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		record.AnonymousUserID,
		record.TargetUserID,
		record.ItemsMerged.Configurations,
		record.ItemsMerged.AlertRules,
		record.ItemsMerged.Preferences,
		record.MergedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create merge record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}
