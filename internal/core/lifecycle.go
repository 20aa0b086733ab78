package core

import (
	"context"
	"fmt"
	"time"

	"pondcore/pkg/domain"
)

// Staleness thresholds used by validation. Coverage below the ratio is a
// warning, rows older than the max age are a staleness warning.
const (
	minCoverageRatio  = 0.8
	maxSnapshotAge    = 7 * 24 * time.Hour
	defaultRetention  = 90
	retentionDayHours = 24 * time.Hour
)

// ValidationReport is the structured outcome of a snapshot validation pass.
// Data-quality findings land in Errors/Warnings; the method only fails for
// store-level faults.
type ValidationReport struct {
	IsValid       bool      `json:"is_valid"`
	Errors        []string  `json:"errors"`
	Warnings      []string  `json:"warnings"`
	SnapshotCount int       `json:"snapshot_count"`
	LastGenerated time.Time `json:"last_generated"`
}

// SnapshotLifecycleManager orchestrates regeneration triggers, retention
// cleanup, and coverage validation over the snapshot store.
type SnapshotLifecycleManager struct {
	snapshots SnapshotStore
	buckets   []SizeBucket
	cfg       ProjectionConfig
	nowFn     func() time.Time
}

// NewSnapshotLifecycleManager constructs a lifecycle manager sharing the
// projector's configuration so horizons line up.
func NewSnapshotLifecycleManager(snapshots SnapshotStore, cfg ProjectionConfig) *SnapshotLifecycleManager {
	return &SnapshotLifecycleManager{
		snapshots: snapshots,
		buckets:   DefaultSizeBuckets,
		cfg:       cfg.withDefaults(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the time source, mainly for tests.
func (m *SnapshotLifecycleManager) WithNowFunc(now func() time.Time) *SnapshotLifecycleManager {
	m.nowFn = now
	return m
}

// StaleWeeks reports the plan-week starts whose snapshots are stale. A plan
// mutated after the latest generation invalidates the full default horizon;
// a plan with no snapshots at all is stale across the entire horizon; an
// up-to-date plan yields no stale weeks.
func (m *SnapshotLifecycleManager) StaleWeeks(ctx context.Context, plan domain.Plan) ([]time.Time, error) {
	latest, ok, err := m.snapshots.LatestSnapshot(ctx, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	if ok && !plan.LastMutationAt.After(latest.GeneratedAt) {
		return nil, nil
	}
	weeks := make([]time.Time, 0, m.cfg.HorizonWeeks)
	start := PlanWeekStart(m.nowFn())
	for i := 0; i < m.cfg.HorizonWeeks; i++ {
		weeks = append(weeks, start.AddDate(0, 0, 7*i))
	}
	return weeks, nil
}

// CleanupOldSnapshots deletes snapshot rows whose week start lies more than
// retentionDays in the past and returns the number of rows removed. A
// non-positive retention falls back to the default window.
func (m *SnapshotLifecycleManager) CleanupOldSnapshots(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetention
	}
	cutoff := m.nowFn().Add(-time.Duration(retentionDays) * retentionDayHours)
	deleted, err := m.snapshots.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return deleted, nil
}

// ValidateSnapshots checks coverage and freshness for a plan. Zero rows is an
// error, coverage under 80% of the expected (weeks x buckets) grid and rows
// older than seven days are warnings. Only store failures return an error.
func (m *SnapshotLifecycleManager) ValidateSnapshots(ctx context.Context, planID string) (ValidationReport, error) {
	report := ValidationReport{}
	count, err := m.snapshots.CountSnapshots(ctx, planID)
	if err != nil {
		return report, fmt.Errorf("count snapshots: %w", err)
	}
	report.SnapshotCount = count

	if count == 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("plan %s has no inventory snapshots", planID))
		report.IsValid = false
		return report, nil
	}

	latest, ok, err := m.snapshots.LatestSnapshot(ctx, planID)
	if err != nil {
		return report, fmt.Errorf("query latest snapshot: %w", err)
	}
	if ok {
		report.LastGenerated = latest.GeneratedAt
		if age := m.nowFn().Sub(latest.GeneratedAt); age > maxSnapshotAge {
			report.Warnings = append(report.Warnings, fmt.Sprintf("latest snapshot is %.0f days old", age.Hours()/24))
		}
	}

	expected := m.cfg.HorizonWeeks * len(m.buckets)
	if expected > 0 && float64(count) < minCoverageRatio*float64(expected) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("snapshot coverage %d/%d below %d%%", count, expected, int(minCoverageRatio*100)))
	}

	report.IsValid = len(report.Errors) == 0
	return report, nil
}
