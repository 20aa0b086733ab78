package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Chain recomputation and snapshot
// clear-then-insert both rely on this atomicity: readers must never observe a
// partially renumbered chain or a half-cleared snapshot window.
type Transaction interface {
	Snapshot() TransactionView
	CreatePond(Pond) (Pond, error)
	UpdatePond(id string, mutator func(*Pond) error) (Pond, error)
	CreateCohort(Cohort) (Cohort, error)
	UpdateCohort(id string, mutator func(*Cohort) error) (Cohort, error)
	CreatePlan(Plan) (Plan, error)
	UpdatePlan(id string, mutator func(*Plan) error) (Plan, error)
	CreateSampleSession(SampleSession) (SampleSession, error)
	UpdateSampleSession(id string, mutator func(*SampleSession) error) (SampleSession, error)
	DeleteSampleSession(id string) error
	CreateHarvestRecord(HarvestRecord) (HarvestRecord, error)
	AppendAuditEntry(AuditEntry) (AuditEntry, error)
	// InsertSnapshots upserts rows keyed by (plan, pond, week, bucket) and
	// reports how many rows were newly created versus replaced in place.
	InsertSnapshots(rows []InventorySnapshot) (created, updated int, err error)
	DeleteSnapshotRange(planID string, r DateRange) (int, error)
	DeleteSnapshotsBefore(cutoff time.Time) (int, error)
	FindPond(id string) (Pond, bool)
	FindCohort(id string) (Cohort, bool)
	FindPlan(id string) (Plan, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// orchestration reads.
type TransactionView interface {
	RuleView
	ListSnapshots(planID string) []InventorySnapshot
	ListAuditEntries() []AuditEntry
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPond(id string) (Pond, bool)
	ListPonds() []Pond
	ListCohorts() []Cohort
	ListPlans() []Plan
	ListSampleSessions() []SampleSession
	ListHarvestRecords() []HarvestRecord
	SessionsForChain(pondID, cohortID string) []SampleSession
	ListSnapshots(planID string) []InventorySnapshot
	LatestSnapshot(planID string) (InventorySnapshot, bool)
	CountSnapshots(planID string) int
	ListAuditEntries() []AuditEntry
}
