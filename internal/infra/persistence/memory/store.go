// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. It is also the state engine
// behind the sqlite and postgres wrappers, which snapshot its exported state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pondcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Pond aliases domain.Pond for in-memory persistence operations.
	Pond = domain.Pond
	// Cohort aliases domain.Cohort.
	Cohort = domain.Cohort
	// Plan aliases domain.Plan.
	Plan = domain.Plan
	// SampleSession aliases domain.SampleSession.
	SampleSession = domain.SampleSession
	// HarvestRecord aliases domain.HarvestRecord.
	HarvestRecord = domain.HarvestRecord
	// InventorySnapshot aliases domain.InventorySnapshot.
	InventorySnapshot = domain.InventorySnapshot
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	ponds     map[string]Pond
	cohorts   map[string]Cohort
	plans     map[string]Plan
	sessions  map[string]SampleSession
	harvests  map[string]HarvestRecord
	snapshots map[string]InventorySnapshot
	audits    []AuditEntry
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Ponds     map[string]Pond              `json:"ponds"`
	Cohorts   map[string]Cohort            `json:"cohorts"`
	Plans     map[string]Plan              `json:"plans"`
	Sessions  map[string]SampleSession     `json:"sessions"`
	Harvests  map[string]HarvestRecord     `json:"harvests"`
	Snapshots map[string]InventorySnapshot `json:"snapshots"`
	Audits    []AuditEntry                 `json:"audits"`
}

func newMemoryState() memoryState {
	return memoryState{
		ponds:     make(map[string]Pond),
		cohorts:   make(map[string]Cohort),
		plans:     make(map[string]Plan),
		sessions:  make(map[string]SampleSession),
		harvests:  make(map[string]HarvestRecord),
		snapshots: make(map[string]InventorySnapshot),
	}
}

// snapshotKey builds the upsert identity of a snapshot row. The four parts
// uniquely address one projected cell regardless of the row's record ID.
func snapshotKey(row InventorySnapshot) string {
	return strings.Join([]string{
		row.PlanID,
		row.PondID,
		row.WeekStart.UTC().Format("2006-01-02"),
		row.SizeBucket,
	}, "|")
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Ponds:     make(map[string]Pond, len(state.ponds)),
		Cohorts:   make(map[string]Cohort, len(state.cohorts)),
		Plans:     make(map[string]Plan, len(state.plans)),
		Sessions:  make(map[string]SampleSession, len(state.sessions)),
		Harvests:  make(map[string]HarvestRecord, len(state.harvests)),
		Snapshots: make(map[string]InventorySnapshot, len(state.snapshots)),
		Audits:    append([]AuditEntry(nil), state.audits...),
	}
	for k, v := range state.ponds {
		s.Ponds[k] = clonePond(v)
	}
	for k, v := range state.cohorts {
		s.Cohorts[k] = cloneCohort(v)
	}
	for k, v := range state.plans {
		s.Plans[k] = clonePlan(v)
	}
	for k, v := range state.sessions {
		s.Sessions[k] = cloneSession(v)
	}
	for k, v := range state.harvests {
		s.Harvests[k] = cloneHarvest(v)
	}
	for k, v := range state.snapshots {
		s.Snapshots[k] = cloneSnapshot(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Ponds {
		state.ponds[k] = clonePond(v)
	}
	for k, v := range s.Cohorts {
		state.cohorts[k] = cloneCohort(v)
	}
	for k, v := range s.Plans {
		state.plans[k] = clonePlan(v)
	}
	for k, v := range s.Sessions {
		state.sessions[k] = cloneSession(v)
	}
	for k, v := range s.Harvests {
		state.harvests[k] = cloneHarvest(v)
	}
	for k, v := range s.Snapshots {
		state.snapshots[k] = cloneSnapshot(v)
	}
	state.audits = append([]AuditEntry(nil), s.Audits...)
	return state
}

// migrateSnapshot normalizes a persisted snapshot before it is adopted as
// live state: nil maps become empty, orphaned references are dropped, and
// snapshot rows are rekeyed under the current upsert identity.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Ponds == nil {
		snapshot.Ponds = map[string]Pond{}
	}
	if snapshot.Cohorts == nil {
		snapshot.Cohorts = map[string]Cohort{}
	}
	if snapshot.Plans == nil {
		snapshot.Plans = map[string]Plan{}
	}
	if snapshot.Sessions == nil {
		snapshot.Sessions = map[string]SampleSession{}
	}
	if snapshot.Harvests == nil {
		snapshot.Harvests = map[string]HarvestRecord{}
	}
	if snapshot.Snapshots == nil {
		snapshot.Snapshots = map[string]InventorySnapshot{}
	}

	pondExists := func(id string) bool {
		_, ok := snapshot.Ponds[id]
		return ok
	}
	cohortExists := func(id string) bool {
		_, ok := snapshot.Cohorts[id]
		return ok
	}
	planExists := func(id string) bool {
		_, ok := snapshot.Plans[id]
		return ok
	}

	for id, session := range snapshot.Sessions {
		if session.PondID == "" || !pondExists(session.PondID) {
			delete(snapshot.Sessions, id)
			continue
		}
		if session.CohortID == "" || !cohortExists(session.CohortID) {
			delete(snapshot.Sessions, id)
		}
	}

	rekeyed := make(map[string]InventorySnapshot, len(snapshot.Snapshots))
	for _, row := range snapshot.Snapshots {
		if !planExists(row.PlanID) || !pondExists(row.PondID) {
			continue
		}
		rekeyed[snapshotKey(row)] = row
	}
	snapshot.Snapshots = rekeyed

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.ponds {
		cloned.ponds[k] = clonePond(v)
	}
	for k, v := range s.cohorts {
		cloned.cohorts[k] = cloneCohort(v)
	}
	for k, v := range s.plans {
		cloned.plans[k] = clonePlan(v)
	}
	for k, v := range s.sessions {
		cloned.sessions[k] = cloneSession(v)
	}
	for k, v := range s.harvests {
		cloned.harvests[k] = cloneHarvest(v)
	}
	for k, v := range s.snapshots {
		cloned.snapshots[k] = cloneSnapshot(v)
	}
	cloned.audits = append([]AuditEntry(nil), s.audits...)
	return cloned
}

func clonePond(p Pond) Pond { return p }

func cloneCohort(c Cohort) Cohort { return c }

func clonePlan(p Plan) Plan { return p }

func cloneSnapshot(s InventorySnapshot) InventorySnapshot { return s }

func cloneSession(s SampleSession) SampleSession {
	cp := s
	cp.MeasurementsG = append([]float64(nil), s.MeasurementsG...)
	if s.LabWeightG != nil {
		w := *s.LabWeightG
		cp.LabWeightG = &w
	}
	if s.ManualCultureWeek != nil {
		week := *s.ManualCultureWeek
		cp.ManualCultureWeek = &week
	}
	return cp
}

func cloneHarvest(h HarvestRecord) HarvestRecord {
	cp := h
	if h.PondWeightsKg != nil {
		cp.PondWeightsKg = make(map[string]float64, len(h.PondWeightsKg))
		for k, v := range h.PondWeightsKg {
			cp.PondWeightsKg[k] = v
		}
	}
	if h.GradeSplitKg != nil {
		cp.GradeSplitKg = make(map[string]float64, len(h.GradeSplitKg))
		for k, v := range h.GradeSplitKg {
			cp.GradeSplitKg[k] = v
		}
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider, mainly for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListPonds returns all ponds within the snapshot, ordered by name.
func (v transactionView) ListPonds() []Pond {
	out := make([]Pond, 0, len(v.state.ponds))
	for _, p := range v.state.ponds {
		out = append(out, clonePond(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListCohorts returns all cohorts in the snapshot, ordered by code.
func (v transactionView) ListCohorts() []Cohort {
	out := make([]Cohort, 0, len(v.state.cohorts))
	for _, c := range v.state.cohorts {
		out = append(out, cloneCohort(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ListPlans returns all plans in the snapshot, ordered by name.
func (v transactionView) ListPlans() []Plan {
	out := make([]Plan, 0, len(v.state.plans))
	for _, p := range v.state.plans {
		out = append(out, clonePlan(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListSampleSessions returns all sessions in the snapshot ordered by sample date.
func (v transactionView) ListSampleSessions() []SampleSession {
	out := make([]SampleSession, 0, len(v.state.sessions))
	for _, s := range v.state.sessions {
		out = append(out, cloneSession(s))
	}
	sortSessions(out)
	return out
}

// ListHarvestRecords returns all harvest ledger entries ordered by harvest date.
func (v transactionView) ListHarvestRecords() []HarvestRecord {
	out := make([]HarvestRecord, 0, len(v.state.harvests))
	for _, h := range v.state.harvests {
		out = append(out, cloneHarvest(h))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HarvestedAt.Equal(out[j].HarvestedAt) {
			return out[i].HarvestedAt.Before(out[j].HarvestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindPond retrieves a pond by ID from the snapshot.
func (v transactionView) FindPond(id string) (Pond, bool) {
	p, ok := v.state.ponds[id]
	if !ok {
		return Pond{}, false
	}
	return clonePond(p), true
}

// FindCohort retrieves a cohort by ID from the snapshot.
func (v transactionView) FindCohort(id string) (Cohort, bool) {
	c, ok := v.state.cohorts[id]
	if !ok {
		return Cohort{}, false
	}
	return cloneCohort(c), true
}

// FindPlan retrieves a plan by ID from the snapshot.
func (v transactionView) FindPlan(id string) (Plan, bool) {
	p, ok := v.state.plans[id]
	if !ok {
		return Plan{}, false
	}
	return clonePlan(p), true
}

// SessionsForChain returns the sessions of one (pond, cohort) chain ordered
// by true sample date rather than insertion order.
func (v transactionView) SessionsForChain(pondID, cohortID string) []SampleSession {
	var out []SampleSession
	for _, s := range v.state.sessions {
		if s.PondID == pondID && s.CohortID == cohortID {
			out = append(out, cloneSession(s))
		}
	}
	sortSessions(out)
	return out
}

// ListSnapshots returns the snapshot rows for one plan ordered by week, pond,
// and bucket.
func (v transactionView) ListSnapshots(planID string) []InventorySnapshot {
	var out []InventorySnapshot
	for _, row := range v.state.snapshots {
		if row.PlanID == planID {
			out = append(out, cloneSnapshot(row))
		}
	}
	sortSnapshots(out)
	return out
}

// ListAuditEntries returns the audit trail in append order.
func (v transactionView) ListAuditEntries() []AuditEntry {
	return append([]AuditEntry(nil), v.state.audits...)
}

func sortSessions(sessions []SampleSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].SampledAt.Equal(sessions[j].SampledAt) {
			return sessions[i].SampledAt.Before(sessions[j].SampledAt)
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}

func sortSnapshots(rows []InventorySnapshot) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].WeekStart.Equal(rows[j].WeekStart) {
			return rows[i].WeekStart.Before(rows[j].WeekStart)
		}
		if rows[i].PondID != rows[j].PondID {
			return rows[i].PondID < rows[j].PondID
		}
		return rows[i].SizeBucket < rows[j].SizeBucket
	})
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindPond exposes pond lookup within the transaction scope.
func (tx *transaction) FindPond(id string) (Pond, bool) {
	p, ok := tx.state.ponds[id]
	if !ok {
		return Pond{}, false
	}
	return clonePond(p), true
}

// FindCohort exposes cohort lookup within the transaction scope.
func (tx *transaction) FindCohort(id string) (Cohort, bool) {
	c, ok := tx.state.cohorts[id]
	if !ok {
		return Cohort{}, false
	}
	return cloneCohort(c), true
}

// FindPlan exposes plan lookup within the transaction scope.
func (tx *transaction) FindPlan(id string) (Plan, bool) {
	p, ok := tx.state.plans[id]
	if !ok {
		return Plan{}, false
	}
	return clonePlan(p), true
}

// CreatePond stores a new pond within the transaction.
func (tx *transaction) CreatePond(p Pond) (Pond, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.ponds[p.ID]; exists {
		return Pond{}, fmt.Errorf("pond %q already exists", p.ID)
	}
	if p.AreaM2 < 0 {
		return Pond{}, domain.ValidationError{Field: "area_m2", Message: "pond area must not be negative"}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.ponds[p.ID] = clonePond(p)
	tx.recordChange(Change{Entity: domain.EntityPond, Action: domain.ActionCreate, After: clonePond(p)})
	return clonePond(p), nil
}

// UpdatePond mutates a pond using the provided mutator function.
func (tx *transaction) UpdatePond(id string, mutator func(*Pond) error) (Pond, error) {
	current, ok := tx.state.ponds[id]
	if !ok {
		return Pond{}, domain.ErrNotFound{Entity: domain.EntityPond, ID: id}
	}
	before := clonePond(current)
	if err := mutator(&current); err != nil {
		return Pond{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.ponds[id] = clonePond(current)
	tx.recordChange(Change{Entity: domain.EntityPond, Action: domain.ActionUpdate, Before: before, After: clonePond(current)})
	return clonePond(current), nil
}

// CreateCohort stores a new cohort.
func (tx *transaction) CreateCohort(c Cohort) (Cohort, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.cohorts[c.ID]; exists {
		return Cohort{}, fmt.Errorf("cohort %q already exists", c.ID)
	}
	if c.InitialPopulation < 0 {
		return Cohort{}, domain.ValidationError{Field: "initial_population", Message: "initial population must not be negative"}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.cohorts[c.ID] = cloneCohort(c)
	tx.recordChange(Change{Entity: domain.EntityCohort, Action: domain.ActionCreate, After: cloneCohort(c)})
	return cloneCohort(c), nil
}

// UpdateCohort mutates a cohort using the provided mutator function.
func (tx *transaction) UpdateCohort(id string, mutator func(*Cohort) error) (Cohort, error) {
	current, ok := tx.state.cohorts[id]
	if !ok {
		return Cohort{}, domain.ErrNotFound{Entity: domain.EntityCohort, ID: id}
	}
	before := cloneCohort(current)
	if err := mutator(&current); err != nil {
		return Cohort{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.cohorts[id] = cloneCohort(current)
	tx.recordChange(Change{Entity: domain.EntityCohort, Action: domain.ActionUpdate, Before: before, After: cloneCohort(current)})
	return cloneCohort(current), nil
}

// CreatePlan stores a new plan.
func (tx *transaction) CreatePlan(p Plan) (Plan, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.plans[p.ID]; exists {
		return Plan{}, fmt.Errorf("plan %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	if p.LastMutationAt.IsZero() {
		p.LastMutationAt = tx.now
	}
	tx.state.plans[p.ID] = clonePlan(p)
	tx.recordChange(Change{Entity: domain.EntityPlan, Action: domain.ActionCreate, After: clonePlan(p)})
	return clonePlan(p), nil
}

// UpdatePlan mutates a plan. Every update refreshes LastMutationAt so the
// staleness check can compare it against snapshot generation times.
func (tx *transaction) UpdatePlan(id string, mutator func(*Plan) error) (Plan, error) {
	current, ok := tx.state.plans[id]
	if !ok {
		return Plan{}, domain.ErrNotFound{Entity: domain.EntityPlan, ID: id}
	}
	before := clonePlan(current)
	if err := mutator(&current); err != nil {
		return Plan{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	current.LastMutationAt = tx.now
	tx.state.plans[id] = clonePlan(current)
	tx.recordChange(Change{Entity: domain.EntityPlan, Action: domain.ActionUpdate, Before: before, After: clonePlan(current)})
	return clonePlan(current), nil
}

// CreateSampleSession stores a new sampling session.
func (tx *transaction) CreateSampleSession(s SampleSession) (SampleSession, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.sessions[s.ID]; exists {
		return SampleSession{}, fmt.Errorf("sample session %q already exists", s.ID)
	}
	for _, w := range s.MeasurementsG {
		if w < 0 {
			return SampleSession{}, domain.ValidationError{Field: "measurements_g", Message: "measurement weights must not be negative"}
		}
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.sessions[s.ID] = cloneSession(s)
	tx.recordChange(Change{Entity: domain.EntitySampleSession, Action: domain.ActionCreate, After: cloneSession(s)})
	return cloneSession(s), nil
}

// UpdateSampleSession mutates a session using the provided mutator function.
func (tx *transaction) UpdateSampleSession(id string, mutator func(*SampleSession) error) (SampleSession, error) {
	current, ok := tx.state.sessions[id]
	if !ok {
		return SampleSession{}, domain.ErrNotFound{Entity: domain.EntitySampleSession, ID: id}
	}
	before := cloneSession(current)
	if err := mutator(&current); err != nil {
		return SampleSession{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.sessions[id] = cloneSession(current)
	tx.recordChange(Change{Entity: domain.EntitySampleSession, Action: domain.ActionUpdate, Before: before, After: cloneSession(current)})
	return cloneSession(current), nil
}

// DeleteSampleSession removes a session from the transaction state.
func (tx *transaction) DeleteSampleSession(id string) error {
	current, ok := tx.state.sessions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySampleSession, ID: id}
	}
	delete(tx.state.sessions, id)
	tx.recordChange(Change{Entity: domain.EntitySampleSession, Action: domain.ActionDelete, Before: cloneSession(current)})
	return nil
}

// CreateHarvestRecord appends a harvest ledger entry. The ledger is read-only
// after creation, so no update operation exists.
func (tx *transaction) CreateHarvestRecord(h HarvestRecord) (HarvestRecord, error) {
	if h.ID == "" {
		h.ID = tx.store.newID()
	}
	if _, exists := tx.state.harvests[h.ID]; exists {
		return HarvestRecord{}, fmt.Errorf("harvest record %q already exists", h.ID)
	}
	for label, kg := range h.PondWeightsKg {
		if kg < 0 {
			return HarvestRecord{}, domain.ValidationError{Field: "pond_weights_kg", Message: fmt.Sprintf("harvest weight for %q must not be negative", label)}
		}
	}
	h.CreatedAt = tx.now
	h.UpdatedAt = tx.now
	tx.state.harvests[h.ID] = cloneHarvest(h)
	tx.recordChange(Change{Entity: domain.EntityHarvestRecord, Action: domain.ActionCreate, After: cloneHarvest(h)})
	return cloneHarvest(h), nil
}

// AppendAuditEntry records a manual mutation in the audit trail.
func (tx *transaction) AppendAuditEntry(e AuditEntry) (AuditEntry, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = tx.now
	}
	tx.state.audits = append(tx.state.audits, e)
	tx.recordChange(Change{Entity: domain.EntityAuditEntry, Action: domain.ActionCreate, After: e})
	return e, nil
}

// InsertSnapshots upserts snapshot rows keyed by (plan, pond, week, bucket).
// Existing rows keep their record ID and creation time; everything else is
// replaced by the incoming row.
func (tx *transaction) InsertSnapshots(rows []InventorySnapshot) (int, int, error) {
	var created, updated int
	for _, row := range rows {
		if row.PlanID == "" {
			return created, updated, domain.ValidationError{Field: "plan_id", Message: "snapshot row missing plan id"}
		}
		if row.ProjectedBiomassKg < 0 {
			return created, updated, domain.ValidationError{Field: "projected_biomass_kg", Message: "projected biomass must not be negative"}
		}
		key := snapshotKey(row)
		if existing, ok := tx.state.snapshots[key]; ok {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			row.UpdatedAt = tx.now
			tx.state.snapshots[key] = cloneSnapshot(row)
			tx.recordChange(Change{Entity: domain.EntityInventorySnapshot, Action: domain.ActionUpdate, Before: existing, After: cloneSnapshot(row)})
			updated++
			continue
		}
		if row.ID == "" {
			row.ID = tx.store.newID()
		}
		row.CreatedAt = tx.now
		row.UpdatedAt = tx.now
		tx.state.snapshots[key] = cloneSnapshot(row)
		tx.recordChange(Change{Entity: domain.EntityInventorySnapshot, Action: domain.ActionCreate, After: cloneSnapshot(row)})
		created++
	}
	return created, updated, nil
}

// DeleteSnapshotRange removes a plan's snapshot rows whose week start falls in
// the range. A zero range clears all rows for the plan.
func (tx *transaction) DeleteSnapshotRange(planID string, r domain.DateRange) (int, error) {
	deleted := 0
	for key, row := range tx.state.snapshots {
		if row.PlanID != planID {
			continue
		}
		if !r.IsZero() && !r.Contains(row.WeekStart) {
			continue
		}
		delete(tx.state.snapshots, key)
		tx.recordChange(Change{Entity: domain.EntityInventorySnapshot, Action: domain.ActionDelete, Before: row})
		deleted++
	}
	return deleted, nil
}

// DeleteSnapshotsBefore removes snapshot rows older than the cutoff across
// all plans. Used by retention cleanup.
func (tx *transaction) DeleteSnapshotsBefore(cutoff time.Time) (int, error) {
	deleted := 0
	for key, row := range tx.state.snapshots {
		if !row.WeekStart.Before(cutoff) {
			continue
		}
		delete(tx.state.snapshots, key)
		tx.recordChange(Change{Entity: domain.EntityInventorySnapshot, Action: domain.ActionDelete, Before: row})
		deleted++
	}
	return deleted, nil
}

// GetPond retrieves a pond from committed state.
func (s *Store) GetPond(id string) (Pond, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.ponds[id]
	if !ok {
		return Pond{}, false
	}
	return clonePond(p), true
}

// ListPonds returns committed ponds ordered by name.
func (s *Store) ListPonds() []Pond {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListPonds()
}

// ListCohorts returns committed cohorts ordered by code.
func (s *Store) ListCohorts() []Cohort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListCohorts()
}

// ListPlans returns committed plans ordered by name.
func (s *Store) ListPlans() []Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListPlans()
}

// ListSampleSessions returns committed sessions ordered by sample date.
func (s *Store) ListSampleSessions() []SampleSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListSampleSessions()
}

// ListHarvestRecords returns committed ledger entries ordered by harvest date.
func (s *Store) ListHarvestRecords() []HarvestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListHarvestRecords()
}

// SessionsForChain returns one (pond, cohort) chain ordered by sample date.
func (s *Store) SessionsForChain(pondID, cohortID string) []SampleSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).SessionsForChain(pondID, cohortID)
}

// ListSnapshots returns committed snapshot rows for one plan.
func (s *Store) ListSnapshots(planID string) []InventorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListSnapshots(planID)
}

// LatestSnapshot returns the most recently generated snapshot row for a plan.
func (s *Store) LatestSnapshot(planID string) (InventorySnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest InventorySnapshot
	found := false
	for _, row := range s.state.snapshots {
		if row.PlanID != planID {
			continue
		}
		if !found || row.GeneratedAt.After(latest.GeneratedAt) {
			latest = cloneSnapshot(row)
			found = true
		}
	}
	return latest, found
}

// CountSnapshots returns the number of snapshot rows stored for a plan.
func (s *Store) CountSnapshots(planID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, row := range s.state.snapshots {
		if row.PlanID == planID {
			count++
		}
	}
	return count
}

// ListAuditEntries returns the committed audit trail in append order.
func (s *Store) ListAuditEntries() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.state.audits...)
}
