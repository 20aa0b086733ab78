package core

import (
	"context"
	"fmt"

	"pondcore/pkg/domain"
)

// NewSurvivalBoundsRule returns the rule that flags survival rates above
// 100%. The rate is intentionally not clamped: a value above 100 means the
// upstream initial-population figure is wrong, and hiding that by clamping
// would bury the data problem. The finding is a warning, never a block.
func NewSurvivalBoundsRule() domain.Rule {
	return survivalBoundsRule{}
}

type survivalBoundsRule struct{}

func (survivalBoundsRule) Name() string { return "survival_bounds" }

func (survivalBoundsRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, session := range view.ListSampleSessions() {
		if session.Metrics.SurvivalRatePct > 100 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "survival_bounds",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("session %s survival rate %.1f%% exceeds 100%%, check initial population for cohort %s", session.ID, session.Metrics.SurvivalRatePct, session.CohortID),
				Entity:   domain.EntitySampleSession,
				EntityID: session.ID,
			})
		}
	}
	return res, nil
}
