// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by pondcore.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPond identifies a rearing pond registry record.
	EntityPond EntityType = "pond"
	// EntityCohort identifies a stocked cohort record.
	EntityCohort EntityType = "cohort"
	// EntityPlan identifies a sales/production plan record.
	EntityPlan EntityType = "plan"
	// EntitySampleSession identifies a manual sampling session record.
	EntitySampleSession EntityType = "sample_session"
	// EntityHarvestRecord identifies a harvest ledger record.
	EntityHarvestRecord EntityType = "harvest_record"
	// EntityInventorySnapshot identifies a projected inventory snapshot row.
	EntityInventorySnapshot EntityType = "inventory_snapshot"
	// EntityAuditEntry identifies an audit trail entry.
	EntityAuditEntry EntityType = "audit_entry"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pond represents a physical rearing unit with a fixed surface area.
// Registry entries are effectively immutable once created; the Active flag
// gates whether the pond participates in projection runs.
type Pond struct {
	Base
	Name   string  `json:"name"`
	AreaM2 float64 `json:"area_m2"`
	Active bool    `json:"active"`
}

// Cohort represents a tracked population of animals stocked together in a pond.
type Cohort struct {
	Base
	Code                   string    `json:"code"`
	PondID                 string    `json:"pond_id"`
	GenerationCode         string    `json:"generation_code"`
	InitialPopulation      int64     `json:"initial_population"`
	Population             int64     `json:"population"`
	AverageWeightG         float64   `json:"average_weight_g"`
	Density                float64   `json:"density"`
	ExpectedHarvestWeightG float64   `json:"expected_harvest_weight_g"`
	StockedAt              time.Time `json:"stocked_at"`
	Active                 bool      `json:"active"`
}

// Plan represents a sales planning horizon whose snapshots are regenerated
// whenever the plan data mutates after the last generation.
type Plan struct {
	Base
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	LastMutationAt time.Time `json:"last_mutation_at"`
}

// SampleSession is one manual measurement event for a pond/cohort on a date.
// Sessions are created once per sampling round and are immutable except for
// explicit manual corrections, which append an audit entry.
type SampleSession struct {
	Base
	PondID            string         `json:"pond_id"`
	CohortID          string         `json:"cohort_id"`
	SampledAt         time.Time      `json:"sampled_at"`
	MeasurementsG     []float64      `json:"measurements_g"`
	LabWeightG        *float64       `json:"lab_weight_g,omitempty"`
	HarvestedKg       float64        `json:"harvested_kg"`
	ManualCultureWeek *int           `json:"manual_culture_week,omitempty"`
	Metrics           DerivedMetrics `json:"metrics"`
}

// DerivedMetrics holds per-session derived values. They are recomputed
// whenever the (pond, cohort) chain changes and cached alongside the session.
type DerivedMetrics struct {
	AverageWeightG                float64 `json:"average_weight_g"`
	BiomassKg                     float64 `json:"biomass_kg"`
	BiomassDeltaKg                float64 `json:"biomass_delta_kg"`
	GrowthG                       float64 `json:"growth_g"`
	PopulationEstimate            int64   `json:"population_estimate"`
	CumulativeHarvestedPopulation int64   `json:"cumulative_harvested_population"`
	SurvivalRatePct               float64 `json:"survival_rate_pct"`
	CultureWeek                   int     `json:"culture_week"`
	WeeklyHarvestKg               float64 `json:"weekly_harvest_kg"`
	CumulativeHarvestKg           float64 `json:"cumulative_harvest_kg"`
	Productivity                  float64 `json:"productivity"`
}

// HarvestRecord is a read-only ledger entry. Pond weights are keyed by the
// free-text pond label the ledger was captured with; resolution to a pond ID
// goes through a single canonicalization shim in the aggregator.
type HarvestRecord struct {
	Base
	HarvestedAt   time.Time          `json:"harvested_at"`
	PondWeightsKg map[string]float64 `json:"pond_weights_kg"`
	GradeSplitKg  map[string]float64 `json:"grade_split_kg,omitempty"`
}

// InventorySnapshot is one persisted projection row for a future week and
// commercial size bucket. WeekStart is always the Monday of its calendar
// week; the Wednesday sampling-week convention never appears here.
type InventorySnapshot struct {
	Base
	PlanID             string    `json:"plan_id"`
	PondID             string    `json:"pond_id"`
	WeekStart          time.Time `json:"week_start"`
	SizeBucket         string    `json:"size_bucket"`
	ProjectedBiomassKg float64   `json:"projected_biomass_kg"`
	SourceRef          string    `json:"source_ref"`
	VersionID          string    `json:"version_id"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// AuditEntry records a manual mutation applied outside the normal
// create-once session lifecycle.
type AuditEntry struct {
	ID         string     `json:"id"`
	Entity     EntityType `json:"entity"`
	EntityID   string     `json:"entity_id"`
	Action     Action     `json:"action"`
	Actor      string     `json:"actor"`
	Note       string     `json:"note,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// DateRange bounds a snapshot window. From is inclusive, To is exclusive, so
// adjacent ranges never overlap on a week boundary.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation or a data-quality finding.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations carried by the result.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
