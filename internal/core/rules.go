package core

import "pondcore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set
// covering the chain invariants every committed transaction must hold.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewCultureWeekSequenceRule())
	engine.Register(NewHarvestMonotonicityRule())
	engine.Register(NewPondStockingRule())
	engine.Register(NewSurvivalBoundsRule())
	return engine
}

// chains groups the sessions visible to a rule by (pond, cohort) chain in
// sample-date order.
func chains(view RuleView) map[[2]string][]SampleSession {
	grouped := make(map[[2]string][]SampleSession)
	for _, session := range view.ListSampleSessions() {
		key := [2]string{session.PondID, session.CohortID}
		grouped[key] = append(grouped[key], session)
	}
	for key, sessions := range grouped {
		grouped[key] = SortSessionsByDate(sessions)
	}
	return grouped
}
