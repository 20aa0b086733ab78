package core

import (
	"math"
	"sort"

	"pondcore/pkg/domain"
)

// ComputeSessionMetrics derives the per-session biomass metrics from a
// sampling session and the metrics of its chain predecessor. Missing optional
// fields degrade to zero values; only structurally invalid input (negative
// area, negative counts or weights) produces a ValidationError.
//
// CultureWeek and WeeklyHarvestKg are owned by the culture-week tracker and
// the sampling aggregator respectively, so the stored values are carried
// through unchanged.
func ComputeSessionMetrics(current domain.SampleSession, previous *domain.DerivedMetrics, pondAreaM2 float64, initialPopulation int64) (domain.DerivedMetrics, error) {
	if pondAreaM2 < 0 {
		return domain.DerivedMetrics{}, domain.ValidationError{Field: "pond_area", Message: "area must not be negative"}
	}
	if initialPopulation < 0 {
		return domain.DerivedMetrics{}, domain.ValidationError{Field: "initial_population", Message: "population must not be negative"}
	}
	if current.HarvestedKg < 0 {
		return domain.DerivedMetrics{}, domain.ValidationError{Field: "harvested_kg", Message: "harvest weight must not be negative"}
	}
	if current.LabWeightG != nil && *current.LabWeightG < 0 {
		return domain.DerivedMetrics{}, domain.ValidationError{Field: "lab_weight_g", Message: "lab weight must not be negative"}
	}
	for _, m := range current.MeasurementsG {
		if m < 0 {
			return domain.DerivedMetrics{}, domain.ValidationError{Field: "measurements_g", Message: "measurements must not be negative"}
		}
	}

	metrics := domain.DerivedMetrics{
		CultureWeek:     current.Metrics.CultureWeek,
		WeeklyHarvestKg: current.Metrics.WeeklyHarvestKg,
	}

	if current.LabWeightG != nil {
		metrics.AverageWeightG = *current.LabWeightG
	} else {
		metrics.AverageWeightG = medianWeight(current.MeasurementsG)
	}

	metrics.BiomassKg = metrics.AverageWeightG / 1000 * pondAreaM2
	if previous != nil {
		metrics.BiomassDeltaKg = metrics.BiomassKg - previous.BiomassKg
		metrics.GrowthG = metrics.AverageWeightG - previous.AverageWeightG
	}

	if metrics.AverageWeightG > 0 {
		metrics.PopulationEstimate = int64(math.Round(metrics.BiomassKg * 1000 / metrics.AverageWeightG))
	}

	var harvestedPopulation int64
	if current.HarvestedKg > 0 && metrics.AverageWeightG > 0 {
		harvestedPopulation = int64(math.Round(current.HarvestedKg * 1000 / metrics.AverageWeightG))
	}
	metrics.CumulativeHarvestedPopulation = harvestedPopulation
	metrics.CumulativeHarvestKg = current.HarvestedKg
	if previous != nil {
		metrics.CumulativeHarvestedPopulation += previous.CumulativeHarvestedPopulation
		metrics.CumulativeHarvestKg += previous.CumulativeHarvestKg
	}

	if initialPopulation > 0 {
		metrics.SurvivalRatePct = float64(metrics.PopulationEstimate+metrics.CumulativeHarvestedPopulation) / float64(initialPopulation) * 100
	}

	if pondAreaM2 > 0 {
		metrics.Productivity = (metrics.BiomassKg + metrics.CumulativeHarvestKg) / pondAreaM2
	}

	return metrics, nil
}

// ComputeChainMetrics recomputes the derived metrics of a whole (pond, cohort)
// chain in true sample-date order and returns them aligned with the sorted
// chain. Recomputation always runs over the full chain so cumulative sums stay
// consistent after historical corrections.
func ComputeChainMetrics(sessions []domain.SampleSession, pondAreaM2 float64, initialPopulation int64) ([]domain.SampleSession, error) {
	chain := SortSessionsByDate(sessions)
	var previous *domain.DerivedMetrics
	for i := range chain {
		metrics, err := ComputeSessionMetrics(chain[i], previous, pondAreaM2, initialPopulation)
		if err != nil {
			return nil, err
		}
		chain[i].Metrics = metrics
		previous = &chain[i].Metrics
	}
	return chain, nil
}

// SortSessionsByDate returns a copy of the sessions ordered by true sample
// date. Ties fall back to creation time so corrections keep a stable order.
func SortSessionsByDate(sessions []domain.SampleSession) []domain.SampleSession {
	chain := append([]domain.SampleSession(nil), sessions...)
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].SampledAt.Equal(chain[j].SampledAt) {
			return chain[i].CreatedAt.Before(chain[j].CreatedAt)
		}
		return chain[i].SampledAt.Before(chain[j].SampledAt)
	})
	return chain
}

func medianWeight(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
