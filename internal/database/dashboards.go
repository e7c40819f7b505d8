package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DashboardRepository handles the anonymous-owned dashboard data that a
// merge copies: saved configurations, alert rules, and preferences. Copies
// are idempotent upserts keyed by the original item id (copied_from), so a
// retried merge never duplicates items.
type DashboardRepository struct {
	db *DB
}

// NewDashboardRepository creates a new dashboard repository
func NewDashboardRepository(db *DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// CopyConfigurations copies all dashboard configurations from one user to
// another and returns the number of source items. Re-running the copy is a
// no-op thanks to the (user_id, copied_from) uniqueness.
func (r *DashboardRepository) CopyConfigurations(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error) {
	count, err := r.countRows(ctx, `SELECT COUNT(*) FROM dashboard_configurations WHERE user_id = $1`, fromUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to count configurations: %w", err)
	}

	query := `
		INSERT INTO dashboard_configurations (id, user_id, name, layout, copied_from, created_at, updated_at)
		SELECT gen_random_uuid(), $2, name, layout, id, created_at, NOW()
		FROM dashboard_configurations
		WHERE user_id = $1
		ON CONFLICT (user_id, copied_from) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, fromUserID, toUserID); err != nil {
		return 0, fmt.Errorf("failed to copy configurations: %w", err)
	}

	return count, nil
}

// CopyAlertRules copies all alert rules from one user to another and
// returns the number of source items.
func (r *DashboardRepository) CopyAlertRules(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error) {
	count, err := r.countRows(ctx, `SELECT COUNT(*) FROM alert_rules WHERE user_id = $1`, fromUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to count alert rules: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, user_id, symbol, condition, threshold, enabled, copied_from, created_at, updated_at)
		SELECT gen_random_uuid(), $2, symbol, condition, threshold, enabled, id, created_at, NOW()
		FROM alert_rules
		WHERE user_id = $1
		ON CONFLICT (user_id, copied_from) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, fromUserID, toUserID); err != nil {
		return 0, fmt.Errorf("failed to copy alert rules: %w", err)
	}

	return count, nil
}

// CopyPreferences copies preference settings from one user to another and
// returns the number of source items. Existing target preferences win: the
// copy never overwrites a key the target already set.
func (r *DashboardRepository) CopyPreferences(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error) {
	count, err := r.countRows(ctx, `SELECT COUNT(*) FROM user_preferences WHERE user_id = $1`, fromUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to count preferences: %w", err)
	}

	query := `
		INSERT INTO user_preferences (user_id, key, value, updated_at)
		SELECT $2, key, value, NOW()
		FROM user_preferences
		WHERE user_id = $1
		ON CONFLICT (user_id, key) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, fromUserID, toUserID); err != nil {
		return 0, fmt.Errorf("failed to copy preferences: %w", err)
	}

	return count, nil
}

func (r *DashboardRepository) countRows(ctx context.Context, query string, userID uuid.UUID) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
