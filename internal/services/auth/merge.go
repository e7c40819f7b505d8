package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"go.uber.org/zap"
)

// MergeCoordinator copies anonymous-owned dashboard data into an
// authenticated user exactly once. The write-once MergeRecord is the
// idempotency fence: repeated calls (client retries, duplicate magic-link
// verifications) return the original counts without re-copying.
type MergeCoordinator struct {
	records MergeRecordStore
	data    DashboardStore
	retry   database.RetryPolicy
	log     *zap.Logger
	now     func() time.Time
}

// NewMergeCoordinator creates a merge coordinator
func NewMergeCoordinator(records MergeRecordStore, data DashboardStore, retry database.RetryPolicy, log *zap.Logger) *MergeCoordinator {
	return &MergeCoordinator{
		records: records,
		data:    data,
		retry:   retry,
		log:     log,
		now:     time.Now,
	}
}

// Merge copies configurations, alert rules, and preferences from the
// anonymous user to the target and returns per-category counts. The record
// is written only after every copy succeeds, so a partial failure leaves no
// record behind and a retry redoes the (idempotent) copies.
func (m *MergeCoordinator) Merge(ctx context.Context, anonymousUserID, targetUserID uuid.UUID) (models.MergeCounts, error) {
	if existing, err := m.records.Get(ctx, anonymousUserID, targetUserID); err == nil {
		return existing.ItemsMerged, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.MergeCounts{}, Wrap(KindDatabase, "failed to check merge record", err)
	}

	var counts models.MergeCounts
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var copyErr error
		if counts.Configurations, copyErr = m.data.CopyConfigurations(ctx, anonymousUserID, targetUserID); copyErr != nil {
			return copyErr
		}
		if counts.AlertRules, copyErr = m.data.CopyAlertRules(ctx, anonymousUserID, targetUserID); copyErr != nil {
			return copyErr
		}
		if counts.Preferences, copyErr = m.data.CopyPreferences(ctx, anonymousUserID, targetUserID); copyErr != nil {
			return copyErr
		}
		return nil
	})
	if err != nil {
		return models.MergeCounts{}, Wrap(KindDatabase, "failed to copy anonymous data", err)
	}

	record := &models.MergeRecord{
		AnonymousUserID: anonymousUserID,
		TargetUserID:    targetUserID,
		ItemsMerged:     counts,
		MergedAt:        m.now().UTC(),
	}

	created, err := m.records.CreateIfAbsent(ctx, record)
	if err != nil {
		return models.MergeCounts{}, Wrap(KindDatabase, "failed to record merge", err)
	}
	if !created {
		// Lost the race to a concurrent merge of the same pair: discard
		// our counts and return the winner's.
		winner, err := m.records.Get(ctx, anonymousUserID, targetUserID)
		if err != nil {
			return models.MergeCounts{}, Wrap(KindDatabase, "failed to read winning merge record", err)
		}
		return winner.ItemsMerged, nil
	}

	m.log.Info("anonymous_data_merged",
		zap.String("anonymous_user_id", anonymousUserID.String()),
		zap.String("target_user_id", targetUserID.String()),
		zap.Int("items_merged", counts.Total()),
	)

	return counts, nil
}

// Status reports the most recent merge into a user, for the merge-status
// endpoint. Returns nil when the user has never received a merge.
func (m *MergeCoordinator) Status(ctx context.Context, targetUserID uuid.UUID) (*models.MergeRecord, error) {
	record, err := m.records.GetLatestForTarget(ctx, targetUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to read merge status", err)
	}
	return record, nil
}
