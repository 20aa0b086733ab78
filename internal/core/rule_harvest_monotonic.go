package core

import (
	"context"
	"fmt"

	"pondcore/pkg/domain"
)

// NewHarvestMonotonicityRule returns the rule enforcing that cumulative
// harvest totals never decrease along a chain. A decrease means the chain was
// renumbered or corrected inconsistently, so it blocks the commit.
func NewHarvestMonotonicityRule() domain.Rule {
	return harvestMonotonicityRule{}
}

type harvestMonotonicityRule struct{}

func (harvestMonotonicityRule) Name() string { return "harvest_monotonicity" }

func (harvestMonotonicityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for key, sessions := range chains(view) {
		for i := 1; i < len(sessions); i++ {
			prev, cur := sessions[i-1].Metrics, sessions[i].Metrics
			if cur.CumulativeHarvestedPopulation < prev.CumulativeHarvestedPopulation {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "harvest_monotonicity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("pond %s cohort %s: cumulative harvested population drops from %d to %d", key[0], key[1], prev.CumulativeHarvestedPopulation, cur.CumulativeHarvestedPopulation),
					Entity:   domain.EntitySampleSession,
					EntityID: sessions[i].ID,
				})
			}
			if cur.CumulativeHarvestKg < prev.CumulativeHarvestKg {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "harvest_monotonicity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("pond %s cohort %s: cumulative harvest kg drops from %.3f to %.3f", key[0], key[1], prev.CumulativeHarvestKg, cur.CumulativeHarvestKg),
					Entity:   domain.EntitySampleSession,
					EntityID: sessions[i].ID,
				})
			}
		}
	}
	return res, nil
}
