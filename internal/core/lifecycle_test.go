package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pondcore/internal/core"
	"pondcore/pkg/domain"
)

// erroringSnapshotStore fails every call, exercising the store-fault paths.
type erroringSnapshotStore struct{}

var errStoreDown = errors.New("store down")

func (erroringSnapshotStore) InsertSnapshots(context.Context, []domain.InventorySnapshot) (int, int, error) {
	return 0, 0, errStoreDown
}

func (erroringSnapshotStore) DeleteSnapshotRange(context.Context, string, domain.DateRange) (int, error) {
	return 0, errStoreDown
}

func (erroringSnapshotStore) DeleteSnapshotsBefore(context.Context, time.Time) (int, error) {
	return 0, errStoreDown
}

func (erroringSnapshotStore) LatestSnapshot(context.Context, string) (domain.InventorySnapshot, bool, error) {
	return domain.InventorySnapshot{}, false, errStoreDown
}

func (erroringSnapshotStore) CountSnapshots(context.Context, string) (int, error) {
	return 0, errStoreDown
}

func (erroringSnapshotStore) ListSnapshots(context.Context, string) ([]domain.InventorySnapshot, error) {
	return nil, errStoreDown
}

func seedSnapshotRows(t *testing.T, store *fakeSnapshotStore, rows []domain.InventorySnapshot) {
	t.Helper()
	if _, _, err := store.InsertSnapshots(context.Background(), rows); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
}

func TestStaleWeeksNoSnapshotsCoversFullHorizon(t *testing.T) {
	mgr := core.NewSnapshotLifecycleManager(newFakeSnapshotStore(), core.ProjectionConfig{}).WithNowFunc(fixedNow)
	weeks, err := mgr.StaleWeeks(context.Background(), testPlan())
	if err != nil {
		t.Fatalf("stale weeks: %v", err)
	}
	if len(weeks) != core.DefaultHorizonWeeks {
		t.Fatalf("expected %d stale weeks, got %d", core.DefaultHorizonWeeks, len(weeks))
	}
	start := day(2025, time.November, 3)
	for i, w := range weeks {
		if !w.Equal(start.AddDate(0, 0, 7*i)) {
			t.Fatalf("week %d: expected %s, got %s", i, start.AddDate(0, 0, 7*i).Format("2006-01-02"), w.Format("2006-01-02"))
		}
	}
}

func TestStaleWeeksFreshPlanYieldsNone(t *testing.T) {
	store := newFakeSnapshotStore()
	seedSnapshotRows(t, store, []domain.InventorySnapshot{{
		PlanID:      "plan-1",
		PondID:      "pond-7",
		WeekStart:   day(2025, time.November, 3),
		SizeBucket:  "20-30",
		GeneratedAt: fixedNow().Add(-10 * time.Minute),
	}})
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{}).WithNowFunc(fixedNow)

	weeks, err := mgr.StaleWeeks(context.Background(), testPlan())
	if err != nil {
		t.Fatalf("stale weeks: %v", err)
	}
	if weeks != nil {
		t.Fatalf("expected no stale weeks, got %v", weeks)
	}
}

func TestStaleWeeksPlanMutatedAfterGeneration(t *testing.T) {
	store := newFakeSnapshotStore()
	seedSnapshotRows(t, store, []domain.InventorySnapshot{{
		PlanID:      "plan-1",
		PondID:      "pond-7",
		WeekStart:   day(2025, time.November, 3),
		SizeBucket:  "20-30",
		GeneratedAt: fixedNow().Add(-48 * time.Hour),
	}})
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{}).WithNowFunc(fixedNow)

	plan := testPlan()
	plan.LastMutationAt = fixedNow().Add(-time.Hour)
	weeks, err := mgr.StaleWeeks(context.Background(), plan)
	if err != nil {
		t.Fatalf("stale weeks: %v", err)
	}
	if len(weeks) != core.DefaultHorizonWeeks {
		t.Fatalf("expected full horizon stale after plan mutation, got %d weeks", len(weeks))
	}
}

func TestStaleWeeksStoreFailure(t *testing.T) {
	mgr := core.NewSnapshotLifecycleManager(erroringSnapshotStore{}, core.ProjectionConfig{})
	if _, err := mgr.StaleWeeks(context.Background(), testPlan()); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestCleanupOldSnapshotsDeletesByWeekStart(t *testing.T) {
	store := newFakeSnapshotStore()
	seedSnapshotRows(t, store, []domain.InventorySnapshot{
		{PlanID: "plan-1", PondID: "pond-7", WeekStart: fixedNow().AddDate(0, 0, -40), SizeBucket: "20-30"},
		{PlanID: "plan-1", PondID: "pond-7", WeekStart: fixedNow().AddDate(0, 0, -3), SizeBucket: "20-30"},
	})
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{}).WithNowFunc(fixedNow)

	deleted, err := mgr.CleanupOldSnapshots(context.Background(), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected recent row kept, got %d rows", len(store.rows))
	}
}

func TestCleanupOldSnapshotsDefaultRetention(t *testing.T) {
	store := newFakeSnapshotStore()
	seedSnapshotRows(t, store, []domain.InventorySnapshot{
		{PlanID: "plan-1", PondID: "pond-7", WeekStart: fixedNow().AddDate(0, 0, -40), SizeBucket: "20-30"},
	})
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{}).WithNowFunc(fixedNow)

	deleted, err := mgr.CleanupOldSnapshots(context.Background(), 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 40-day-old row inside the default 90-day window, deleted %d", deleted)
	}
}

func TestCleanupOldSnapshotsStoreFailure(t *testing.T) {
	mgr := core.NewSnapshotLifecycleManager(erroringSnapshotStore{}, core.ProjectionConfig{})
	if _, err := mgr.CleanupOldSnapshots(context.Background(), 10); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestValidateSnapshotsZeroRowsIsError(t *testing.T) {
	mgr := core.NewSnapshotLifecycleManager(newFakeSnapshotStore(), core.ProjectionConfig{}).WithNowFunc(fixedNow)
	report, err := mgr.ValidateSnapshots(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.IsValid {
		t.Fatalf("expected invalid report for empty plan")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "no inventory snapshots") {
		t.Fatalf("expected missing-snapshots error, got %v", report.Errors)
	}
}

func TestValidateSnapshotsHealthyPlan(t *testing.T) {
	store := newFakeSnapshotStore()
	var rows []domain.InventorySnapshot
	for _, bucket := range []string{"10-20", "20-30", "30-40", "40-60", "60-80"} {
		rows = append(rows, domain.InventorySnapshot{
			PlanID:      "plan-1",
			PondID:      "pond-7",
			WeekStart:   day(2025, time.November, 3),
			SizeBucket:  bucket,
			GeneratedAt: fixedNow().Add(-time.Hour),
		})
	}
	seedSnapshotRows(t, store, rows)
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{HorizonWeeks: 1}).WithNowFunc(fixedNow)

	report, err := mgr.ValidateSnapshots(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.IsValid || len(report.Warnings) != 0 {
		t.Fatalf("expected clean report, got %+v", report)
	}
	if report.SnapshotCount != 5 {
		t.Fatalf("expected 5 counted rows, got %d", report.SnapshotCount)
	}
	if !report.LastGenerated.Equal(fixedNow().Add(-time.Hour)) {
		t.Fatalf("unexpected last generated %s", report.LastGenerated)
	}
}

func TestValidateSnapshotsLowCoverageWarns(t *testing.T) {
	store := newFakeSnapshotStore()
	seedSnapshotRows(t, store, []domain.InventorySnapshot{{
		PlanID:      "plan-1",
		PondID:      "pond-7",
		WeekStart:   day(2025, time.November, 3),
		SizeBucket:  "20-30",
		GeneratedAt: fixedNow().Add(-time.Hour),
	}})
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{}).WithNowFunc(fixedNow)

	report, err := mgr.ValidateSnapshots(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.IsValid {
		t.Fatalf("coverage warning should not invalidate the report")
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "coverage") {
		t.Fatalf("expected coverage warning, got %v", report.Warnings)
	}
}

func TestValidateSnapshotsStaleGenerationWarns(t *testing.T) {
	store := newFakeSnapshotStore()
	var rows []domain.InventorySnapshot
	for _, bucket := range []string{"10-20", "20-30", "30-40", "40-60", "60-80"} {
		rows = append(rows, domain.InventorySnapshot{
			PlanID:      "plan-1",
			PondID:      "pond-7",
			WeekStart:   day(2025, time.November, 3),
			SizeBucket:  bucket,
			GeneratedAt: fixedNow().AddDate(0, 0, -10),
		})
	}
	seedSnapshotRows(t, store, rows)
	mgr := core.NewSnapshotLifecycleManager(store, core.ProjectionConfig{HorizonWeeks: 1}).WithNowFunc(fixedNow)

	report, err := mgr.ValidateSnapshots(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "days old") {
		t.Fatalf("expected staleness warning, got %v", report.Warnings)
	}
}

func TestValidateSnapshotsStoreFailure(t *testing.T) {
	mgr := core.NewSnapshotLifecycleManager(erroringSnapshotStore{}, core.ProjectionConfig{})
	if _, err := mgr.ValidateSnapshots(context.Background(), "plan-1"); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
}
