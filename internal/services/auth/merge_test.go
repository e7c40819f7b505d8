package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
	"go.uber.org/zap"
)

func newTestMerger(records *fakeMergeRecordStore, data *fakeDashboardStore) *MergeCoordinator {
	return NewMergeCoordinator(records, data, testRetry(), zap.NewNop())
}

func TestMergeCoordinator_Merge(t *testing.T) {
	t.Parallel()

	records := newFakeMergeRecordStore()
	data := &fakeDashboardStore{counts: models.MergeCounts{Configurations: 2, AlertRules: 3, Preferences: 5}}
	merger := newTestMerger(records, data)

	anonID := uuid.New()
	targetID := uuid.New()

	counts, err := merger.Merge(context.Background(), anonID, targetID)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if counts.Total() != 10 {
		t.Errorf("Expected 10 items merged, got %d", counts.Total())
	}

	record, err := records.Get(context.Background(), anonID, targetID)
	if err != nil {
		t.Fatalf("Expected merge record to be written: %v", err)
	}
	if record.ItemsMerged != counts {
		t.Errorf("Record counts %+v do not match returned counts %+v", record.ItemsMerged, counts)
	}
}

func TestMergeCoordinator_Merge_Idempotent(t *testing.T) {
	t.Parallel()

	records := newFakeMergeRecordStore()
	data := &fakeDashboardStore{counts: models.MergeCounts{Configurations: 1, AlertRules: 1}}
	merger := newTestMerger(records, data)

	anonID := uuid.New()
	targetID := uuid.New()

	first, err := merger.Merge(context.Background(), anonID, targetID)
	if err != nil {
		t.Fatalf("first Merge() error = %v", err)
	}
	callsAfterFirst := data.copyCalls

	second, err := merger.Merge(context.Background(), anonID, targetID)
	if err != nil {
		t.Fatalf("second Merge() error = %v", err)
	}

	if first != second {
		t.Errorf("Expected identical counts on repeat merge: first %+v, second %+v", first, second)
	}
	if data.copyCalls != callsAfterFirst {
		t.Error("Expected no data copies on repeat merge")
	}
}

func TestMergeCoordinator_Merge_Concurrent(t *testing.T) {
	t.Parallel()

	records := newFakeMergeRecordStore()
	data := &fakeDashboardStore{counts: models.MergeCounts{Configurations: 4, Preferences: 2}}
	merger := newTestMerger(records, data)

	anonID := uuid.New()
	targetID := uuid.New()

	const n = 10
	results := make([]models.MergeCounts, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = merger.Merge(context.Background(), anonID, targetID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Merge[%d] error = %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("Merge[%d] counts %+v differ from %+v: all callers must see identical counts", i, results[i], results[0])
		}
	}
}

func TestMergeCoordinator_Merge_PartialFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	records := newFakeMergeRecordStore()
	data := &fakeDashboardStore{copyErr: errors.New("copy failed")}
	merger := newTestMerger(records, data)

	anonID := uuid.New()
	targetID := uuid.New()

	_, err := merger.Merge(context.Background(), anonID, targetID)
	if err == nil {
		t.Fatal("Expected error from failing copy")
	}
	if KindOf(err) != KindDatabase {
		t.Errorf("Expected kind %s, got %s", KindDatabase, KindOf(err))
	}

	if _, err := records.Get(context.Background(), anonID, targetID); err == nil {
		t.Error("Expected no merge record after a failed copy")
	}

	// A retry after the failure clears goes through cleanly.
	data.mu.Lock()
	data.copyErr = nil
	data.counts = models.MergeCounts{AlertRules: 7}
	data.mu.Unlock()

	counts, err := merger.Merge(context.Background(), anonID, targetID)
	if err != nil {
		t.Fatalf("retry Merge() error = %v", err)
	}
	if counts.AlertRules != 7 {
		t.Errorf("Expected retry to merge 7 alert rules, got %d", counts.AlertRules)
	}
}

func TestMergeCoordinator_Status(t *testing.T) {
	t.Parallel()

	records := newFakeMergeRecordStore()
	data := &fakeDashboardStore{counts: models.MergeCounts{Preferences: 3}}
	merger := newTestMerger(records, data)

	targetID := uuid.New()

	record, err := merger.Status(context.Background(), targetID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if record != nil {
		t.Errorf("Expected nil record before any merge, got %+v", record)
	}

	if _, err := merger.Merge(context.Background(), uuid.New(), targetID); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	record, err = merger.Status(context.Background(), targetID)
	if err != nil {
		t.Fatalf("Status() after merge error = %v", err)
	}
	if record == nil {
		t.Fatal("Expected a record after merge")
	}
	if record.ItemsMerged.Preferences != 3 {
		t.Errorf("Expected 3 preferences merged, got %d", record.ItemsMerged.Preferences)
	}
}
