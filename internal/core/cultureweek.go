package core

import (
	"pondcore/pkg/domain"
)

// RecomputeCultureWeeks renumbers the culture weeks of a (pond, cohort) chain.
//
// The chain is sorted by true sample date first. Without a manual override the
// first session is culture week 1 and each subsequent session advances by one.
// When one or more sessions carry a manual culture-week value, the first such
// session in chronological order becomes the anchor: every other session is
// renumbered relative to it, and the anchor's own value is preserved verbatim.
//
// The returned slice contains only the sessions whose computed value differs
// from the stored one, with the new value applied, ready for persistence by
// the caller. The count equals len(changed).
func RecomputeCultureWeeks(sessions []domain.SampleSession) (changed []domain.SampleSession, count int) {
	chain := SortSessionsByDate(sessions)
	if len(chain) == 0 {
		return nil, 0
	}

	anchorIndex := -1
	for i := range chain {
		if chain[i].ManualCultureWeek != nil {
			anchorIndex = i
			break
		}
	}

	for i := range chain {
		var want int
		switch {
		case anchorIndex < 0:
			want = i + 1
		case i == anchorIndex:
			want = *chain[anchorIndex].ManualCultureWeek
		default:
			want = *chain[anchorIndex].ManualCultureWeek + (i - anchorIndex)
		}
		if chain[i].Metrics.CultureWeek != want {
			chain[i].Metrics.CultureWeek = want
			changed = append(changed, chain[i])
		}
	}
	return changed, len(changed)
}
