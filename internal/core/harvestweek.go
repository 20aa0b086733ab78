package core

import (
	"strings"
	"time"
	"unicode"

	"pondcore/pkg/domain"
)

// SamplingWeekAnchor returns the Wednesday that opens the sampling week
// containing t. Field sampling happens on Wednesdays, so the sampling week
// runs Wednesday 00:00 through the following Tuesday 23:59:59. Sundays
// through Tuesdays therefore anchor to the previous Wednesday.
//
// This is deliberately distinct from PlanWeekStart: harvest reconciliation is
// Wednesday-anchored, inventory projection is Monday-aligned, and the two
// conventions must never be conflated.
func SamplingWeekAnchor(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	wd := int(day.Weekday())
	if wd >= int(time.Wednesday) {
		return day.AddDate(0, 0, -(wd - int(time.Wednesday)))
	}
	return day.AddDate(0, 0, -(wd + 7 - int(time.Wednesday)))
}

// CanonicalPondKey normalizes the legacy free-text pond labels found in the
// harvest ledger to a single comparable key. The ledger accumulated several
// naming conventions over the years ("Pond 7", "P-07", "pond7", "tank 7",
// "estanque 7", plain "7"); this is the only place that knowledge lives.
// It is a migration shim over an explicit pond-id foreign key, not a general
// matching facility.
func CanonicalPondKey(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	for _, prefix := range []string{"estanque", "pond", "tank", "p", "t"} {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			// A bare "p"/"t" prefix only counts when followed by a
			// separator or digit ("p7", "p-7"), not inside a word.
			if len(prefix) == 1 && rest != "" && unicode.IsLetter(rune(rest[0])) {
				continue
			}
			key = rest
			break
		}
	}
	var b strings.Builder
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	key = b.String()
	key = strings.TrimLeft(key, "0")
	return key
}

// SamplingAggregator reconciles harvest ledger records against sampling weeks
// for the ponds it was built with. Records dated before the trust cutover are
// ignored entirely: ledger data from before that date predates reliable
// per-pond attribution.
type SamplingAggregator struct {
	cutover time.Time
	byKey   map[string]string // canonical pond key -> pond ID
	byID    map[string]string
}

// NewSamplingAggregator builds an aggregator over the given pond registry
// entries. trustCutover is an explicit configuration parameter; a zero value
// disables the gate.
func NewSamplingAggregator(trustCutover time.Time, ponds []domain.Pond) *SamplingAggregator {
	a := &SamplingAggregator{
		cutover: trustCutover,
		byKey:   make(map[string]string, len(ponds)),
		byID:    make(map[string]string, len(ponds)),
	}
	for _, pond := range ponds {
		if key := CanonicalPondKey(pond.Name); key != "" {
			a.byKey[key] = pond.ID
		}
		a.byID[pond.ID] = pond.ID
	}
	return a
}

// ResolvePondID maps a ledger pond label to a registered pond ID.
func (a *SamplingAggregator) ResolvePondID(label string) (string, bool) {
	if id, ok := a.byID[label]; ok {
		return id, true
	}
	id, ok := a.byKey[CanonicalPondKey(label)]
	return id, ok
}

// AggregateHarvestForPondWeek sums the harvest weight attributed to pondID
// within the sampling week of sampleDate. It returns 0 when nothing matches.
// Each record contributes to exactly one week bucket: the one anchored at
// SamplingWeekAnchor(record date).
func (a *SamplingAggregator) AggregateHarvestForPondWeek(pondID string, sampleDate time.Time, records []domain.HarvestRecord) float64 {
	anchor := SamplingWeekAnchor(sampleDate)
	var total float64
	for _, record := range records {
		if !a.cutover.IsZero() && record.HarvestedAt.Before(a.cutover) {
			continue
		}
		if !SamplingWeekAnchor(record.HarvestedAt).Equal(anchor) {
			continue
		}
		for label, kg := range record.PondWeightsKg {
			if id, ok := a.ResolvePondID(label); ok && id == pondID {
				total += kg
			}
		}
	}
	return total
}
