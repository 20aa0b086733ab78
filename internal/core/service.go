package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pondcore/internal/infra/persistence/memory"
	"pondcore/pkg/domain"
)

// Service exposes the derivation operations over a persistent store: session
// recording with chain recomputation, snapshot generation, staleness checks,
// retention cleanup, and coverage validation. All operations are synchronous;
// I/O beyond the configured store stays with the caller.
type Service struct {
	store   PersistentStore
	cfg     ProjectionConfig
	cutover time.Time
	dist    WeightDistribution
	metrics MetricsRecorder
	tracer  Tracer
	nowFn   func() time.Time

	// genMu serializes snapshot writes per service so the clear-then-insert
	// ordering of force regeneration is never interleaved.
	genMu sync.Mutex
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithMetricsRecorder attaches an operation metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer attaches an operation tracer.
func WithTracer(tr Tracer) ServiceOption {
	return func(s *Service) { s.tracer = tr }
}

// WithProjectionConfig overrides the projection tunables.
func WithProjectionConfig(cfg ProjectionConfig) ServiceOption {
	return func(s *Service) { s.cfg = cfg.withDefaults() }
}

// WithTrustCutover sets the date before which harvest ledger records are not
// reconciled against sampling weeks.
func WithTrustCutover(t time.Time) ServiceOption {
	return func(s *Service) { s.cutover = t }
}

// WithWeightDistribution overrides the size-bucket apportioning model.
func WithWeightDistribution(dist WeightDistribution) ServiceOption {
	return func(s *Service) { s.dist = dist }
}

// WithNowFunc overrides the time source, mainly for tests.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFn = now }
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		cfg:   ProjectionConfig{}.withDefaults(),
		dist:  NewSpreadDistribution(0),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// observe wraps one operation with tracing and metrics.
func (s *Service) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := s.nowFn()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, s.nowFn().Sub(start))
	}
	if span != nil {
		span.End(err)
	}
	return err
}

// CreatePond registers a new pond.
func (s *Service) CreatePond(ctx context.Context, pond Pond) (Pond, Result, error) {
	var created Pond
	var res Result
	err := s.observe(ctx, "create_pond", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreatePond(pond)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdatePond mutates a pond registry entry.
func (s *Service) UpdatePond(ctx context.Context, id string, mutator func(*Pond) error) (Pond, Result, error) {
	var updated Pond
	var res Result
	err := s.observe(ctx, "update_pond", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdatePond(id, mutator)
			return err
		})
		return err
	})
	return updated, res, err
}

// CreateCohort registers a stocked cohort.
func (s *Service) CreateCohort(ctx context.Context, cohort Cohort) (Cohort, Result, error) {
	var created Cohort
	var res Result
	err := s.observe(ctx, "create_cohort", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateCohort(cohort)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdateCohort mutates a cohort.
func (s *Service) UpdateCohort(ctx context.Context, id string, mutator func(*Cohort) error) (Cohort, Result, error) {
	var updated Cohort
	var res Result
	err := s.observe(ctx, "update_cohort", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateCohort(id, mutator)
			return err
		})
		return err
	})
	return updated, res, err
}

// CreatePlan registers a sales plan.
func (s *Service) CreatePlan(ctx context.Context, plan Plan) (Plan, Result, error) {
	var created Plan
	var res Result
	err := s.observe(ctx, "create_plan", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreatePlan(plan)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdatePlan mutates a plan, which also refreshes its last-mutation time and
// thereby marks its snapshots stale.
func (s *Service) UpdatePlan(ctx context.Context, id string, mutator func(*Plan) error) (Plan, Result, error) {
	var updated Plan
	var res Result
	err := s.observe(ctx, "update_plan", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdatePlan(id, mutator)
			return err
		})
		return err
	})
	return updated, res, err
}

// CreateHarvestRecord appends a harvest ledger entry.
func (s *Service) CreateHarvestRecord(ctx context.Context, record HarvestRecord) (HarvestRecord, Result, error) {
	var created HarvestRecord
	var res Result
	err := s.observe(ctx, "create_harvest_record", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateHarvestRecord(record)
			return err
		})
		return err
	})
	return created, res, err
}

// RecordSampleSession persists a new sampling session and recomputes the full
// (pond, cohort) chain (derived metrics, culture weeks, weekly harvest
// reconciliation) inside one transaction, so readers never observe a partially
// renumbered chain.
func (s *Service) RecordSampleSession(ctx context.Context, session SampleSession) (SampleSession, Result, error) {
	var created SampleSession
	var res Result
	err := s.observe(ctx, "record_sample_session", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			pond, ok := tx.FindPond(session.PondID)
			if !ok {
				return domain.ErrNotFound{Entity: EntityPond, ID: session.PondID}
			}
			cohort, ok := tx.FindCohort(session.CohortID)
			if !ok {
				return domain.ErrNotFound{Entity: EntityCohort, ID: session.CohortID}
			}
			created, err = tx.CreateSampleSession(session)
			if err != nil {
				return err
			}
			return s.recomputeChain(tx, pond, cohort, &created)
		})
		return err
	})
	return created, res, err
}

// CorrectSampleSession applies an explicit manual correction to a session,
// appends the required audit entry, and recomputes the chain forward.
func (s *Service) CorrectSampleSession(ctx context.Context, id, actor, note string, mutator func(*SampleSession) error) (SampleSession, Result, error) {
	var updated SampleSession
	var res Result
	err := s.observe(ctx, "correct_sample_session", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateSampleSession(id, mutator)
			if err != nil {
				return err
			}
			if _, err := tx.AppendAuditEntry(AuditEntry{
				Entity:   EntitySampleSession,
				EntityID: id,
				Action:   ActionUpdate,
				Actor:    actor,
				Note:     note,
			}); err != nil {
				return err
			}
			pond, ok := tx.FindPond(updated.PondID)
			if !ok {
				return domain.ErrNotFound{Entity: EntityPond, ID: updated.PondID}
			}
			cohort, ok := tx.FindCohort(updated.CohortID)
			if !ok {
				return domain.ErrNotFound{Entity: EntityCohort, ID: updated.CohortID}
			}
			return s.recomputeChain(tx, pond, cohort, &updated)
		})
		return err
	})
	return updated, res, err
}

// recomputeChain recomputes metrics, culture weeks, and weekly harvest totals
// for the chain and persists every session whose derived values changed.
// When tracked is non-nil it is refreshed with its recomputed copy.
func (s *Service) recomputeChain(tx Transaction, pond Pond, cohort Cohort, tracked *SampleSession) error {
	view := tx.Snapshot()
	sessions := view.SessionsForChain(pond.ID, cohort.ID)

	stored := make(map[string]DerivedMetrics, len(sessions))
	for _, session := range sessions {
		stored[session.ID] = session.Metrics
	}

	aggregator := NewSamplingAggregator(s.cutover, view.ListPonds())
	records := view.ListHarvestRecords()
	for i := range sessions {
		sessions[i].Metrics.WeeklyHarvestKg = aggregator.AggregateHarvestForPondWeek(pond.ID, sessions[i].SampledAt, records)
	}

	chain, err := ComputeChainMetrics(sessions, pond.AreaM2, cohort.InitialPopulation)
	if err != nil {
		return err
	}

	changed, _ := RecomputeCultureWeeks(chain)
	weeks := make(map[string]int, len(changed))
	for _, session := range changed {
		weeks[session.ID] = session.Metrics.CultureWeek
	}

	for _, session := range chain {
		if week, ok := weeks[session.ID]; ok {
			session.Metrics.CultureWeek = week
		}
		if session.Metrics == stored[session.ID] {
			if tracked != nil && session.ID == tracked.ID {
				*tracked = session
			}
			continue
		}
		metrics := session.Metrics
		persisted, err := tx.UpdateSampleSession(session.ID, func(target *SampleSession) error {
			target.Metrics = metrics
			return nil
		})
		if err != nil {
			return fmt.Errorf("persist recomputed session %s: %w", session.ID, err)
		}
		if tracked != nil && persisted.ID == tracked.ID {
			*tracked = persisted
		}
	}
	return nil
}

// AggregateHarvestForPondWeek reconciles the harvest ledger against the
// sampling week of sampleDate for one pond, using the configured trust
// cutover. Returns 0 when nothing matches.
func (s *Service) AggregateHarvestForPondWeek(ctx context.Context, pondID string, sampleDate time.Time) (float64, error) {
	var total float64
	err := s.observe(ctx, "aggregate_harvest", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindPond(pondID); !ok {
				return domain.ErrNotFound{Entity: EntityPond, ID: pondID}
			}
			aggregator := NewSamplingAggregator(s.cutover, view.ListPonds())
			total = aggregator.AggregateHarvestForPondWeek(pondID, sampleDate, view.ListHarvestRecords())
			return nil
		})
	})
	return total, err
}

// GenerateSnapshots projects forward inventory for the plan and persists the
// snapshot rows in batches. Snapshot writes for the service are serialized so
// force-regeneration keeps its clear-then-insert ordering.
func (s *Service) GenerateSnapshots(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	var result GenerateResult
	err := s.observe(ctx, "generate_snapshots", func(ctx context.Context) error {
		s.genMu.Lock()
		defer s.genMu.Unlock()

		plan, cohorts, err := s.projectionInput(ctx, opts.PlanID)
		if err != nil {
			return err
		}
		projector := NewInventoryProjector(s.snapshotStore(), s.dist, s.cfg).WithNowFunc(s.nowFn)
		result, err = projector.GenerateSnapshots(ctx, plan, cohorts, opts)
		return err
	})
	return result, err
}

// GetStaleSnapshots reports, per active plan, the projection weeks whose
// snapshots are stale relative to the plan's last mutation.
func (s *Service) GetStaleSnapshots(ctx context.Context) (map[string][]time.Time, error) {
	stale := make(map[string][]time.Time)
	err := s.observe(ctx, "get_stale_snapshots", func(ctx context.Context) error {
		manager := NewSnapshotLifecycleManager(s.snapshotStore(), s.cfg).WithNowFunc(s.nowFn)
		for _, plan := range s.store.ListPlans() {
			if !plan.Active {
				continue
			}
			weeks, err := manager.StaleWeeks(ctx, plan)
			if err != nil {
				return err
			}
			if len(weeks) > 0 {
				stale[plan.ID] = weeks
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

// RegenerateStale regenerates snapshots for every plan reported stale.
func (s *Service) RegenerateStale(ctx context.Context) (map[string]GenerateResult, error) {
	stale, err := s.GetStaleSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]GenerateResult, len(stale))
	for planID := range stale {
		result, err := s.GenerateSnapshots(ctx, GenerateOptions{PlanID: planID, ForceRegenerate: true})
		if err != nil {
			return results, err
		}
		results[planID] = result
	}
	return results, nil
}

// CleanupOldSnapshots deletes snapshots older than the retention window and
// returns the number of deleted rows.
func (s *Service) CleanupOldSnapshots(ctx context.Context, retentionDays int) (int, error) {
	var deleted int
	err := s.observe(ctx, "cleanup_old_snapshots", func(ctx context.Context) error {
		manager := NewSnapshotLifecycleManager(s.snapshotStore(), s.cfg).WithNowFunc(s.nowFn)
		var err error
		deleted, err = manager.CleanupOldSnapshots(ctx, retentionDays)
		return err
	})
	return deleted, err
}

// ValidateSnapshots runs the coverage and freshness checks for one plan.
func (s *Service) ValidateSnapshots(ctx context.Context, planID string) (ValidationReport, error) {
	var report ValidationReport
	err := s.observe(ctx, "validate_snapshots", func(ctx context.Context) error {
		manager := NewSnapshotLifecycleManager(s.snapshotStore(), s.cfg).WithNowFunc(s.nowFn)
		var err error
		report, err = manager.ValidateSnapshots(ctx, planID)
		return err
	})
	return report, err
}

// projectionInput gathers the plan and the already-fetched cohort state the
// projector consumes.
func (s *Service) projectionInput(ctx context.Context, planID string) (Plan, []ProjectionCohort, error) {
	var plan Plan
	var cohorts []ProjectionCohort
	err := s.store.View(ctx, func(view TransactionView) error {
		found, ok := view.FindPlan(planID)
		if !ok {
			return domain.ConfigurationError{Setting: "plan", Message: fmt.Sprintf("plan %s not found", planID)}
		}
		plan = found
		for _, cohort := range view.ListCohorts() {
			pond, ok := view.FindPond(cohort.PondID)
			if !ok {
				continue
			}
			pc := ProjectionCohort{Cohort: cohort, Pond: pond}
			if chain := view.SessionsForChain(pond.ID, cohort.ID); len(chain) > 0 {
				latest := chain[len(chain)-1]
				pc.LatestSample = &latest
			}
			cohorts = append(cohorts, pc)
		}
		return nil
	})
	if err != nil {
		return Plan{}, nil, err
	}
	return plan, cohorts, nil
}

// snapshotStore adapts the persistent store to the SnapshotStore surface the
// projector and lifecycle manager consume. Every batch insert commits on its
// own: a later batch failure never rolls back earlier batches.
func (s *Service) snapshotStore() SnapshotStore {
	return storeSnapshots{store: s.store}
}

type storeSnapshots struct {
	store PersistentStore
}

func (a storeSnapshots) InsertSnapshots(ctx context.Context, rows []domain.InventorySnapshot) (int, int, error) {
	var created, updated int
	_, err := a.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, updated, err = tx.InsertSnapshots(rows)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func (a storeSnapshots) DeleteSnapshotRange(ctx context.Context, planID string, r DateRange) (int, error) {
	var deleted int
	_, err := a.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		deleted, err = tx.DeleteSnapshotRange(planID, r)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (a storeSnapshots) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	_, err := a.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		deleted, err = tx.DeleteSnapshotsBefore(cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (a storeSnapshots) LatestSnapshot(_ context.Context, planID string) (domain.InventorySnapshot, bool, error) {
	snapshot, ok := a.store.LatestSnapshot(planID)
	return snapshot, ok, nil
}

func (a storeSnapshots) CountSnapshots(_ context.Context, planID string) (int, error) {
	return a.store.CountSnapshots(planID), nil
}

func (a storeSnapshots) ListSnapshots(_ context.Context, planID string) ([]domain.InventorySnapshot, error) {
	return a.store.ListSnapshots(planID), nil
}
