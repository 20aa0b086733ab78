package core

// SizeBucket is a commercial size grade expressed in the count-per-kilogram
// convention used by the sales side. Buckets are ordered coarsest to finest:
// fewer animals per kilogram means larger animals.
type SizeBucket struct {
	Label         string
	MinCountPerKg int // inclusive
	MaxCountPerKg int // exclusive, 0 means open-ended
}

// DefaultSizeBuckets is the fixed commercial grading ladder. Projection
// output emits at most one snapshot row per (pond, week, bucket).
var DefaultSizeBuckets = []SizeBucket{
	{Label: "10-20", MinCountPerKg: 10, MaxCountPerKg: 20},
	{Label: "20-30", MinCountPerKg: 20, MaxCountPerKg: 30},
	{Label: "30-40", MinCountPerKg: 30, MaxCountPerKg: 40},
	{Label: "40-60", MinCountPerKg: 40, MaxCountPerKg: 60},
	{Label: "60-80", MinCountPerKg: 60, MaxCountPerKg: 80},
	{Label: "80-100", MinCountPerKg: 80, MaxCountPerKg: 100},
}

// CountPerKg converts an average animal weight in grams to the grading count.
func CountPerKg(avgWeightG float64) float64 {
	if avgWeightG <= 0 {
		return 0
	}
	return 1000 / avgWeightG
}

// Contains reports whether the grading count falls inside the bucket.
func (b SizeBucket) Contains(countPerKg float64) bool {
	if countPerKg < float64(b.MinCountPerKg) {
		return false
	}
	return b.MaxCountPerKg == 0 || countPerKg < float64(b.MaxCountPerKg)
}

// BucketIndexFor locates the bucket containing the given average weight.
// Returns -1 when the weight grades outside the ladder.
func BucketIndexFor(avgWeightG float64, buckets []SizeBucket) int {
	count := CountPerKg(avgWeightG)
	if count <= 0 {
		return -1
	}
	for i, b := range buckets {
		if b.Contains(count) {
			return i
		}
	}
	return -1
}

// WeightDistribution apportions a cohort's biomass across the size buckets
// around its average weight. Implementations return one fraction per bucket;
// fractions sum to at most 1. The concrete population model is an external
// collaborator, so the projector only depends on this interface.
type WeightDistribution interface {
	Apportion(avgWeightG float64, buckets []SizeBucket) []float64
}

// PointDistribution assigns the full biomass to the bucket containing the
// average weight. Useful as a deterministic fallback and in tests.
type PointDistribution struct{}

// Apportion implements WeightDistribution.
func (PointDistribution) Apportion(avgWeightG float64, buckets []SizeBucket) []float64 {
	fractions := make([]float64, len(buckets))
	if i := BucketIndexFor(avgWeightG, buckets); i >= 0 {
		fractions[i] = 1
	}
	return fractions
}

// SpreadDistribution models the within-cohort weight dispersion observed at
// grading: the center bucket takes centerShare and the two neighbors split
// the remainder, renormalized at the ladder edges.
type SpreadDistribution struct {
	CenterShare float64
}

// NewSpreadDistribution constructs a spread model; share is clamped to [0,1]
// and defaults to 0.6 when zero.
func NewSpreadDistribution(share float64) SpreadDistribution {
	if share <= 0 {
		share = 0.6
	}
	if share > 1 {
		share = 1
	}
	return SpreadDistribution{CenterShare: share}
}

// Apportion implements WeightDistribution.
func (d SpreadDistribution) Apportion(avgWeightG float64, buckets []SizeBucket) []float64 {
	fractions := make([]float64, len(buckets))
	center := BucketIndexFor(avgWeightG, buckets)
	if center < 0 {
		return fractions
	}
	share := d.CenterShare
	if share <= 0 {
		share = 0.6
	}
	side := (1 - share) / 2
	fractions[center] = share
	rest := 0.0
	if center > 0 {
		fractions[center-1] = side
	} else {
		rest += side
	}
	if center < len(buckets)-1 {
		fractions[center+1] = side
	} else {
		rest += side
	}
	fractions[center] += rest
	return fractions
}
