package core

import (
	"context"
	"fmt"

	"pondcore/pkg/domain"
)

// NewCultureWeekSequenceRule returns the rule enforcing that culture weeks
// advance by exactly one along each (pond, cohort) chain. A regression blocks
// the commit; a gap larger than one is a warning, since manual anchors may
// legitimately introduce one at the anchor boundary.
func NewCultureWeekSequenceRule() domain.Rule {
	return cultureWeekSequenceRule{}
}

type cultureWeekSequenceRule struct{}

func (cultureWeekSequenceRule) Name() string { return "culture_week_sequence" }

func (cultureWeekSequenceRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for key, sessions := range chains(view) {
		for i := 1; i < len(sessions); i++ {
			prev, cur := sessions[i-1], sessions[i]
			step := cur.Metrics.CultureWeek - prev.Metrics.CultureWeek
			if step == 1 {
				continue
			}
			anchored := cur.ManualCultureWeek != nil || prev.ManualCultureWeek != nil
			switch {
			case step <= 0 && !anchored:
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "culture_week_sequence",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("pond %s cohort %s: culture week %d does not advance past %d", key[0], key[1], cur.Metrics.CultureWeek, prev.Metrics.CultureWeek),
					Entity:   domain.EntitySampleSession,
					EntityID: cur.ID,
				})
			case !anchored:
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "culture_week_sequence",
					Severity: domain.SeverityWarn,
					Message:  fmt.Sprintf("pond %s cohort %s: culture week jumps from %d to %d", key[0], key[1], prev.Metrics.CultureWeek, cur.Metrics.CultureWeek),
					Entity:   domain.EntitySampleSession,
					EntityID: cur.ID,
				})
			}
		}
	}
	return res, nil
}
