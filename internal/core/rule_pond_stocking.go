package core

import (
	"context"
	"fmt"

	"pondcore/pkg/domain"
)

// NewPondStockingRule returns the rule blocking sessions that reference an
// unknown or inactive pond, or a cohort not assigned to that pond.
func NewPondStockingRule() domain.Rule {
	return pondStockingRule{}
}

type pondStockingRule struct{}

func (pondStockingRule) Name() string { return "pond_stocking" }

func (pondStockingRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, session := range view.ListSampleSessions() {
		pond, ok := view.FindPond(session.PondID)
		if !ok || !pond.Active {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "pond_stocking",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("session %s references unknown or inactive pond %s", session.ID, session.PondID),
				Entity:   domain.EntitySampleSession,
				EntityID: session.ID,
			})
			continue
		}
		cohort, ok := view.FindCohort(session.CohortID)
		if !ok || cohort.PondID != session.PondID {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "pond_stocking",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("session %s references cohort %s not stocked in pond %s", session.ID, session.CohortID, session.PondID),
				Entity:   domain.EntitySampleSession,
				EntityID: session.ID,
			})
		}
	}
	return res, nil
}
