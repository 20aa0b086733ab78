package core

import "pondcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Pond               = domain.Pond
	Cohort             = domain.Cohort
	Plan               = domain.Plan
	SampleSession      = domain.SampleSession
	DerivedMetrics     = domain.DerivedMetrics
	HarvestRecord      = domain.HarvestRecord
	InventorySnapshot  = domain.InventorySnapshot
	AuditEntry         = domain.AuditEntry
	DateRange          = domain.DateRange
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	RuleView           = domain.RuleView
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityPond              = domain.EntityPond
	EntityCohort            = domain.EntityCohort
	EntityPlan              = domain.EntityPlan
	EntitySampleSession     = domain.EntitySampleSession
	EntityHarvestRecord     = domain.EntityHarvestRecord
	EntityInventorySnapshot = domain.EntityInventorySnapshot
	EntityAuditEntry        = domain.EntityAuditEntry
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
