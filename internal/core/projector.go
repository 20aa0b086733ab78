package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"pondcore/pkg/domain"
)

// ProjectionConfig tunes the forward inventory projection. Zero values fall
// back to the defaults below; none of these are hard-coded at call sites.
type ProjectionConfig struct {
	// GrowthRate is the logistic steepness constant k.
	GrowthRate float64
	// CycleWeeks is the expected full culture cycle length.
	CycleWeeks int
	// HorizonWeeks is the default projection window when no explicit date
	// range is requested.
	HorizonWeeks int
	// BatchSize caps rows per snapshot-store write to respect collaborator
	// write limits.
	BatchSize int
}

// Projection defaults applied by withDefaults.
const (
	DefaultGrowthRate   = 0.5
	DefaultCycleWeeks   = 20
	DefaultHorizonWeeks = 12
	DefaultBatchSize    = 100
)

func (c ProjectionConfig) withDefaults() ProjectionConfig {
	if c.GrowthRate <= 0 {
		c.GrowthRate = DefaultGrowthRate
	}
	if c.CycleWeeks <= 0 {
		c.CycleWeeks = DefaultCycleWeeks
	}
	if c.HorizonWeeks <= 0 {
		c.HorizonWeeks = DefaultHorizonWeeks
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// PlanWeekStart returns the Monday 00:00 that starts the calendar week of t.
// Inventory snapshots are always Monday-aligned; the Wednesday-anchored
// sampling week in SamplingWeekAnchor is a different convention entirely.
func PlanWeekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// LogisticWeight projects the average animal weight after elapsedWeeks of a
// cycleWeeks-long culture using a logistic growth curve:
//
//	weight(t) = finalWeightG * sigmoid(k * (tFraction*12 - 6))
//
// where tFraction = elapsedWeeks / cycleWeeks. The curve interpolates between
// stocking weight and the expected harvest weight when no later direct sample
// exists.
func LogisticWeight(finalWeightG, growthRate, elapsedWeeks float64, cycleWeeks int) float64 {
	if finalWeightG <= 0 || cycleWeeks <= 0 {
		return 0
	}
	tFraction := elapsedWeeks / float64(cycleWeeks)
	return finalWeightG * sigmoid(growthRate*(tFraction*12-6))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// SnapshotStore is the collaborator surface the projector and the lifecycle
// manager write through. Each batch insert is an independent commit: a batch
// failure aborts the remaining run but never rolls back committed batches.
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, rows []domain.InventorySnapshot) (created, updated int, err error)
	DeleteSnapshotRange(ctx context.Context, planID string, r domain.DateRange) (int, error)
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error)
	LatestSnapshot(ctx context.Context, planID string) (domain.InventorySnapshot, bool, error)
	CountSnapshots(ctx context.Context, planID string) (int, error)
	ListSnapshots(ctx context.Context, planID string) ([]domain.InventorySnapshot, error)
}

// ProjectionCohort bundles the already-fetched collaborator data the
// projector needs for one cohort. I/O stays with the caller.
type ProjectionCohort struct {
	Cohort       domain.Cohort
	Pond         domain.Pond
	LatestSample *domain.SampleSession
}

// GenerateOptions controls one snapshot generation run.
type GenerateOptions struct {
	PlanID string
	// DateRange overrides the default horizon window. From is aligned down
	// and To aligned up to plan week starts.
	DateRange *domain.DateRange
	// ForceRegenerate clears the target range before inserting, making a
	// rerun after partial failure safe.
	ForceRegenerate bool
	// VersionID tags the emitted rows; a fresh UUID is generated when empty.
	VersionID string
}

// GenerateResult reports the outcome of a generation run.
type GenerateResult struct {
	PlanID    string        `json:"plan_id"`
	VersionID string        `json:"version_id"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Batches   int           `json:"batches"`
	Elapsed   time.Duration `json:"elapsed"`
}

// InventoryProjector turns cohort state into forward weekly biomass rows
// bucketed by commercial size.
type InventoryProjector struct {
	snapshots SnapshotStore
	dist      WeightDistribution
	buckets   []SizeBucket
	cfg       ProjectionConfig
	nowFn     func() time.Time
}

// NewInventoryProjector constructs a projector. A nil distribution falls back
// to the spread model; nil buckets fall back to the default grading ladder.
func NewInventoryProjector(snapshots SnapshotStore, dist WeightDistribution, cfg ProjectionConfig) *InventoryProjector {
	if dist == nil {
		dist = NewSpreadDistribution(0)
	}
	return &InventoryProjector{
		snapshots: snapshots,
		dist:      dist,
		buckets:   DefaultSizeBuckets,
		cfg:       cfg.withDefaults(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the time source, mainly for tests.
func (p *InventoryProjector) WithNowFunc(now func() time.Time) *InventoryProjector {
	p.nowFn = now
	return p
}

// GenerateSnapshots validates the plan, computes candidate rows for all
// active cohorts, and writes them in fixed-size batches. A cohort with zero
// population is skipped, not an error. With ForceRegenerate the target range
// is cleared first; otherwise existing (pond, week, bucket) rows are replaced
// in place by the store upsert, so reruns never duplicate rows.
func (p *InventoryProjector) GenerateSnapshots(ctx context.Context, plan domain.Plan, cohorts []ProjectionCohort, opts GenerateOptions) (GenerateResult, error) {
	started := p.nowFn()
	if plan.ID == "" {
		return GenerateResult{}, domain.ConfigurationError{Setting: "plan", Message: "plan not found"}
	}
	if !plan.Active {
		return GenerateResult{}, domain.ConfigurationError{Setting: "plan", Message: fmt.Sprintf("plan %s is not active", plan.ID)}
	}

	versionID := opts.VersionID
	if versionID == "" {
		versionID = uuid.NewString()
	}
	result := GenerateResult{PlanID: plan.ID, VersionID: versionID}

	window := p.window(opts.DateRange, started)
	if opts.ForceRegenerate {
		deleted, err := p.snapshots.DeleteSnapshotRange(ctx, plan.ID, window)
		if err != nil {
			return result, fmt.Errorf("clear snapshot range: %w", err)
		}
		result.Deleted = deleted
	}

	rows := p.candidateRows(plan, cohorts, window, versionID, started)

	for len(rows) > 0 {
		batch := rows
		if len(batch) > p.cfg.BatchSize {
			batch = batch[:p.cfg.BatchSize]
		}
		created, updated, err := p.snapshots.InsertSnapshots(ctx, batch)
		if err != nil {
			result.Elapsed = p.nowFn().Sub(started)
			return result, domain.PartialWriteError{
				CommittedBatches: result.Batches,
				CommittedRows:    result.Created + result.Updated,
				Err:              err,
			}
		}
		result.Created += created
		result.Updated += updated
		result.Batches++
		rows = rows[len(batch):]
	}

	result.Elapsed = p.nowFn().Sub(started)
	return result, nil
}

func (p *InventoryProjector) window(requested *domain.DateRange, now time.Time) domain.DateRange {
	if requested != nil && !requested.IsZero() {
		from := PlanWeekStart(requested.From)
		to := PlanWeekStart(requested.To)
		if to.Before(requested.To) {
			to = to.AddDate(0, 0, 7)
		}
		return domain.DateRange{From: from, To: to}
	}
	from := PlanWeekStart(now)
	return domain.DateRange{From: from, To: from.AddDate(0, 0, 7*p.cfg.HorizonWeeks)}
}

func (p *InventoryProjector) candidateRows(plan domain.Plan, cohorts []ProjectionCohort, window domain.DateRange, versionID string, generatedAt time.Time) []domain.InventorySnapshot {
	type key struct {
		pondID string
		week   time.Time
		bucket string
	}
	index := make(map[key]int)
	var rows []domain.InventorySnapshot

	for week := window.From; week.Before(window.To); week = week.AddDate(0, 0, 7) {
		for _, pc := range cohorts {
			cohort := pc.Cohort
			if !cohort.Active || !pc.Pond.Active {
				continue
			}
			if cohort.Population <= 0 {
				continue
			}
			weightG := p.projectedWeight(pc, week)
			if weightG <= 0 {
				continue
			}
			totalKg := float64(cohort.Population) * weightG / 1000
			fractions := p.dist.Apportion(weightG, p.buckets)
			for i, fraction := range fractions {
				biomass := totalKg * fraction
				if biomass <= 0 {
					continue
				}
				k := key{pondID: pc.Pond.ID, week: week, bucket: p.buckets[i].Label}
				if at, ok := index[k]; ok {
					rows[at].ProjectedBiomassKg += biomass
					continue
				}
				index[k] = len(rows)
				rows = append(rows, domain.InventorySnapshot{
					PlanID:             plan.ID,
					PondID:             pc.Pond.ID,
					WeekStart:          week,
					SizeBucket:         p.buckets[i].Label,
					ProjectedBiomassKg: biomass,
					SourceRef:          fmt.Sprintf("cohort:%s", cohort.Code),
					VersionID:          versionID,
					GeneratedAt:        generatedAt,
				})
			}
		}
	}
	return rows
}

// projectedWeight returns the expected average weight for the cohort at the
// given plan week. When a later direct sample covers the week the sampled
// weight wins; otherwise the logistic curve interpolates toward the expected
// harvest weight. Cohorts without an expected harvest weight hold their last
// known weight flat rather than being dropped.
func (p *InventoryProjector) projectedWeight(pc ProjectionCohort, week time.Time) float64 {
	currentWeight := pc.Cohort.AverageWeightG
	if pc.LatestSample != nil && pc.LatestSample.Metrics.AverageWeightG > 0 {
		currentWeight = pc.LatestSample.Metrics.AverageWeightG
		if !PlanWeekStart(pc.LatestSample.SampledAt).Before(week) {
			return currentWeight
		}
	}
	if pc.Cohort.ExpectedHarvestWeightG <= 0 {
		return currentWeight
	}
	elapsed := week.Sub(PlanWeekStart(pc.Cohort.StockedAt)).Hours() / (24 * 7)
	if elapsed < 0 {
		return 0
	}
	return LogisticWeight(pc.Cohort.ExpectedHarvestWeightG, p.cfg.GrowthRate, elapsed, p.cfg.CycleWeeks)
}
