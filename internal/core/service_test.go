package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pondcore/internal/core"
	"pondcore/internal/infra/persistence/memory"
	"pondcore/pkg/domain"
)

// testClock is a hand-advanced time source shared by the store and service so
// creation times, generation times, and staleness checks stay deterministic.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newServiceHarness(t *testing.T, opts ...core.ServiceOption) (*core.Service, *testClock) {
	t.Helper()
	clock := &testClock{now: fixedNow()}
	store := memory.NewStore(core.NewDefaultRulesEngine())
	store.SetNowFunc(clock.Now)
	opts = append(opts, core.WithNowFunc(clock.Now))
	return core.NewService(store, opts...), clock
}

func seedFarm(t *testing.T, svc *core.Service, initialPopulation int64) (domain.Pond, domain.Cohort) {
	t.Helper()
	ctx := context.Background()
	pond, _, err := svc.CreatePond(ctx, domain.Pond{Name: "Pond 7", AreaM2: 540, Active: true})
	if err != nil {
		t.Fatalf("create pond: %v", err)
	}
	cohort, _, err := svc.CreateCohort(ctx, domain.Cohort{
		Code:              "C-2025-07",
		PondID:            pond.ID,
		InitialPopulation: initialPopulation,
		Population:        10000,
		AverageWeightG:    40,
		StockedAt:         day(2025, time.September, 1),
		Active:            true,
	})
	if err != nil {
		t.Fatalf("create cohort: %v", err)
	}
	return pond, cohort
}

func TestRecordSampleSessionDerivesMetricsAndReconcilesLedger(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	pond, cohort := seedFarm(t, svc, 1000)

	ledger := []domain.HarvestRecord{
		{HarvestedAt: day(2025, time.November, 6), PondWeightsKg: map[string]float64{"Pond 7": 20}},
		{HarvestedAt: day(2025, time.November, 10), PondWeightsKg: map[string]float64{"pond7": 5.5}},
		{HarvestedAt: day(2025, time.November, 12), PondWeightsKg: map[string]float64{"Pond 7": 99}},
	}
	for _, record := range ledger {
		if _, _, err := svc.CreateHarvestRecord(ctx, record); err != nil {
			t.Fatalf("create harvest record: %v", err)
		}
	}

	created, res, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 6),
		MeasurementsG: []float64{140, 150, 160},
	})
	if err != nil {
		t.Fatalf("record session: %v", err)
	}
	if len(res.Warnings()) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings())
	}
	if !almostEqual(created.Metrics.AverageWeightG, 150) {
		t.Fatalf("expected average weight 150, got %v", created.Metrics.AverageWeightG)
	}
	if !almostEqual(created.Metrics.BiomassKg, 81) {
		t.Fatalf("expected biomass 81 kg, got %v", created.Metrics.BiomassKg)
	}
	if created.Metrics.PopulationEstimate != 540 {
		t.Fatalf("expected population estimate 540, got %d", created.Metrics.PopulationEstimate)
	}
	if created.Metrics.CultureWeek != 1 {
		t.Fatalf("expected culture week 1, got %d", created.Metrics.CultureWeek)
	}
	// Only the two ledger entries inside the Nov 5 sampling week count.
	if !almostEqual(created.Metrics.WeeklyHarvestKg, 25.5) {
		t.Fatalf("expected weekly harvest 25.5 kg, got %v", created.Metrics.WeeklyHarvestKg)
	}
}

func TestRecordSampleSessionUnknownPond(t *testing.T) {
	svc, _ := newServiceHarness(t)
	_, _, err := svc.RecordSampleSession(context.Background(), domain.SampleSession{
		PondID:    "missing",
		CohortID:  "missing",
		SampledAt: day(2025, time.November, 6),
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordSampleSessionInsertedHistoricalSessionRenumbersChain(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	pond, cohort := seedFarm(t, svc, 1000)

	first, _, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 12),
		MeasurementsG: []float64{160},
	})
	if err != nil {
		t.Fatalf("record first session: %v", err)
	}
	if first.Metrics.CultureWeek != 1 {
		t.Fatalf("expected lone session at week 1, got %d", first.Metrics.CultureWeek)
	}

	earlier, _, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 5),
		MeasurementsG: []float64{150},
	})
	if err != nil {
		t.Fatalf("record earlier session: %v", err)
	}
	if earlier.Metrics.CultureWeek != 1 {
		t.Fatalf("expected inserted session to take week 1, got %d", earlier.Metrics.CultureWeek)
	}

	chain := svc.Store().SessionsForChain(pond.ID, cohort.ID)
	if len(chain) != 2 {
		t.Fatalf("expected 2 sessions in chain, got %d", len(chain))
	}
	if chain[0].ID != earlier.ID || chain[0].Metrics.CultureWeek != 1 {
		t.Fatalf("expected earlier session first at week 1, got %s week %d", chain[0].ID, chain[0].Metrics.CultureWeek)
	}
	if chain[1].ID != first.ID || chain[1].Metrics.CultureWeek != 2 {
		t.Fatalf("expected original session shifted to week 2, got week %d", chain[1].Metrics.CultureWeek)
	}
	if !almostEqual(chain[1].Metrics.GrowthG, 10) {
		t.Fatalf("expected growth 10 g after renumbering, got %v", chain[1].Metrics.GrowthG)
	}
}

func TestRecordSampleSessionManualAnchorFlowsThroughChain(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	pond, cohort := seedFarm(t, svc, 1000)

	anchored, _, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:            pond.ID,
		CohortID:          cohort.ID,
		SampledAt:         day(2025, time.November, 5),
		MeasurementsG:     []float64{150},
		ManualCultureWeek: week(10),
	})
	if err != nil {
		t.Fatalf("record anchored session: %v", err)
	}
	if anchored.Metrics.CultureWeek != 10 {
		t.Fatalf("expected anchor preserved at 10, got %d", anchored.Metrics.CultureWeek)
	}

	next, _, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 12),
		MeasurementsG: []float64{160},
	})
	if err != nil {
		t.Fatalf("record follow-up session: %v", err)
	}
	if next.Metrics.CultureWeek != 11 {
		t.Fatalf("expected week 11 relative to anchor, got %d", next.Metrics.CultureWeek)
	}
}

func TestRecordSampleSessionSurvivalWarningDoesNotBlock(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	pond, cohort := seedFarm(t, svc, 500)

	created, res, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 6),
		MeasurementsG: []float64{150},
	})
	if err != nil {
		t.Fatalf("expected warning commit to succeed: %v", err)
	}
	if created.Metrics.SurvivalRatePct <= 100 {
		t.Fatalf("expected survival above 100%%, got %v", created.Metrics.SurvivalRatePct)
	}
	warnings := res.Warnings()
	if len(warnings) != 1 || warnings[0].Rule != "survival_bounds" {
		t.Fatalf("expected survival_bounds warning, got %v", warnings)
	}
}

func TestRecordSampleSessionInactivePondBlocked(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	pond, cohort := seedFarm(t, svc, 1000)
	if _, _, err := svc.UpdatePond(ctx, pond.ID, func(p *domain.Pond) error {
		p.Active = false
		return nil
	}); err != nil {
		t.Fatalf("deactivate pond: %v", err)
	}

	_, _, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 6),
		MeasurementsG: []float64{150},
	})
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	found := false
	for _, v := range rve.Result.Violations {
		if v.Rule == "pond_stocking" && v.Severity == domain.SeverityBlock {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected blocking pond_stocking violation, got %v", rve.Result.Violations)
	}
	if sessions := svc.Store().ListSampleSessions(); len(sessions) != 0 {
		t.Fatalf("expected blocked session not persisted, got %d", len(sessions))
	}
}

func TestCorrectSampleSessionRecomputesAndAudits(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	pond, cohort := seedFarm(t, svc, 1000)

	created, _, err := svc.RecordSampleSession(ctx, domain.SampleSession{
		PondID:        pond.ID,
		CohortID:      cohort.ID,
		SampledAt:     day(2025, time.November, 6),
		MeasurementsG: []float64{100},
	})
	if err != nil {
		t.Fatalf("record session: %v", err)
	}

	updated, _, err := svc.CorrectSampleSession(ctx, created.ID, "tech-1", "scale was miscalibrated", func(s *domain.SampleSession) error {
		s.MeasurementsG = []float64{150}
		return nil
	})
	if err != nil {
		t.Fatalf("correct session: %v", err)
	}
	if !almostEqual(updated.Metrics.AverageWeightG, 150) {
		t.Fatalf("expected recomputed average 150, got %v", updated.Metrics.AverageWeightG)
	}
	if !almostEqual(updated.Metrics.BiomassKg, 81) {
		t.Fatalf("expected recomputed biomass 81 kg, got %v", updated.Metrics.BiomassKg)
	}

	audits := svc.Store().ListAuditEntries()
	if len(audits) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audits))
	}
	entry := audits[0]
	if entry.Entity != domain.EntitySampleSession || entry.EntityID != created.ID {
		t.Fatalf("audit entry points at %s/%s", entry.Entity, entry.EntityID)
	}
	if entry.Actor != "tech-1" || entry.Note != "scale was miscalibrated" {
		t.Fatalf("audit entry missing actor or note: %+v", entry)
	}
}

func TestAggregateHarvestForPondWeekService(t *testing.T) {
	cutover := day(2025, time.November, 8)
	svc, _ := newServiceHarness(t, core.WithTrustCutover(cutover))
	ctx := context.Background()
	pond, _ := seedFarm(t, svc, 1000)

	for _, record := range []domain.HarvestRecord{
		{HarvestedAt: day(2025, time.November, 6), PondWeightsKg: map[string]float64{"Pond 7": 20}},
		{HarvestedAt: day(2025, time.November, 10), PondWeightsKg: map[string]float64{"Pond 7": 5.5}},
	} {
		if _, _, err := svc.CreateHarvestRecord(ctx, record); err != nil {
			t.Fatalf("create harvest record: %v", err)
		}
	}

	total, err := svc.AggregateHarvestForPondWeek(ctx, pond.ID, day(2025, time.November, 6))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if total != 5.5 {
		t.Fatalf("expected pre-cutover record ignored, got %v", total)
	}

	_, err = svc.AggregateHarvestForPondWeek(ctx, "missing", day(2025, time.November, 6))
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound for unknown pond, got %v", err)
	}
}

func seedPlan(t *testing.T, svc *core.Service) domain.Plan {
	t.Helper()
	plan, _, err := svc.CreatePlan(context.Background(), domain.Plan{Name: "Q4", Active: true})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func TestGenerateSnapshotsService(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	seedFarm(t, svc, 1000)
	plan := seedPlan(t, svc)

	result, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: plan.ID})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 12 weeks, cohort holding flat at 40 g spread across 3 buckets.
	if result.Created != 36 || result.Updated != 0 {
		t.Fatalf("expected 36 created rows, got created=%d updated=%d", result.Created, result.Updated)
	}
	if got := svc.Store().CountSnapshots(plan.ID); got != 36 {
		t.Fatalf("expected 36 stored rows, got %d", got)
	}

	rerun, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: plan.ID})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if rerun.Created != 0 || rerun.Updated != 36 {
		t.Fatalf("expected idempotent rerun, got created=%d updated=%d", rerun.Created, rerun.Updated)
	}

	forced, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: plan.ID, ForceRegenerate: true})
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if forced.Deleted != 36 || forced.Created != 36 {
		t.Fatalf("expected clean force regeneration, got deleted=%d created=%d", forced.Deleted, forced.Created)
	}
}

func TestGenerateSnapshotsServiceUnknownPlan(t *testing.T) {
	svc, _ := newServiceHarness(t)
	_, err := svc.GenerateSnapshots(context.Background(), core.GenerateOptions{PlanID: "missing"})
	var cerr domain.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestStaleSnapshotLifecycleThroughService(t *testing.T) {
	svc, clock := newServiceHarness(t)
	ctx := context.Background()
	seedFarm(t, svc, 1000)
	plan := seedPlan(t, svc)

	stale, err := svc.GetStaleSnapshots(ctx)
	if err != nil {
		t.Fatalf("stale before generation: %v", err)
	}
	if len(stale[plan.ID]) != core.DefaultHorizonWeeks {
		t.Fatalf("expected full horizon stale before generation, got %d weeks", len(stale[plan.ID]))
	}

	clock.Advance(time.Hour)
	if _, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: plan.ID}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	stale, err = svc.GetStaleSnapshots(ctx)
	if err != nil {
		t.Fatalf("stale after generation: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale plans after generation, got %v", stale)
	}

	clock.Advance(time.Hour)
	if _, _, err := svc.UpdatePlan(ctx, plan.ID, func(p *domain.Plan) error {
		p.Name = "Q4 revised"
		return nil
	}); err != nil {
		t.Fatalf("update plan: %v", err)
	}
	stale, err = svc.GetStaleSnapshots(ctx)
	if err != nil {
		t.Fatalf("stale after mutation: %v", err)
	}
	if len(stale[plan.ID]) == 0 {
		t.Fatalf("expected plan stale after mutation")
	}

	clock.Advance(time.Hour)
	results, err := svc.RegenerateStale(ctx)
	if err != nil {
		t.Fatalf("regenerate stale: %v", err)
	}
	if _, ok := results[plan.ID]; !ok {
		t.Fatalf("expected regeneration result for plan, got %v", results)
	}
	stale, err = svc.GetStaleSnapshots(ctx)
	if err != nil {
		t.Fatalf("stale after regeneration: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected plans fresh after regeneration, got %v", stale)
	}
}

func TestValidateSnapshotsThroughService(t *testing.T) {
	svc, _ := newServiceHarness(t)
	ctx := context.Background()
	seedFarm(t, svc, 1000)
	plan := seedPlan(t, svc)

	report, err := svc.ValidateSnapshots(ctx, plan.ID)
	if err != nil {
		t.Fatalf("validate empty plan: %v", err)
	}
	if report.IsValid {
		t.Fatalf("expected empty plan invalid")
	}

	if _, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: plan.ID}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	report, err = svc.ValidateSnapshots(ctx, plan.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.IsValid || report.SnapshotCount != 36 {
		t.Fatalf("expected valid report with 36 rows, got %+v", report)
	}
}

func TestCleanupOldSnapshotsThroughService(t *testing.T) {
	svc, clock := newServiceHarness(t)
	ctx := context.Background()
	seedFarm(t, svc, 1000)
	plan := seedPlan(t, svc)
	if _, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: plan.ID}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	deleted, err := svc.CleanupOldSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("cleanup fresh horizon: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected future-facing horizon untouched, deleted %d", deleted)
	}

	// Two months later the early projection weeks fall out of a 10-day window.
	clock.Advance(60 * 24 * time.Hour)
	deleted, err = svc.CleanupOldSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("cleanup aged horizon: %v", err)
	}
	if deleted != 24 {
		t.Fatalf("expected 24 aged rows deleted, got %d", deleted)
	}
	if got := svc.Store().CountSnapshots(plan.ID); got != 12 {
		t.Fatalf("expected 12 rows kept, got %d", got)
	}
}
