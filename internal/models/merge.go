package models

import (
	"time"

	"github.com/google/uuid"
)

// MergeCounts holds per-category item counts for one merge.
type MergeCounts struct {
	Configurations int `json:"configurations"`
	AlertRules     int `json:"alert_rules"`
	Preferences    int `json:"preferences"`
}

// Total returns the sum across categories.
func (c MergeCounts) Total() int {
	return c.Configurations + c.AlertRules + c.Preferences
}

// MergeRecord marks that anonymous-owned data was copied into an
// authenticated user. Write-once per (anonymous, target) pair; it is the
// idempotency fence for repeated merge calls.
type MergeRecord struct {
	AnonymousUserID uuid.UUID   `json:"anonymous_user_id"`
	TargetUserID    uuid.UUID   `json:"target_user_id"`
	ItemsMerged     MergeCounts `json:"items_merged"`
	MergedAt        time.Time   `json:"merged_at"`
}
