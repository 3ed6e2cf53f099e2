package qc

import (
	"slices"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// ComputeBaseline derives the reference level from validated values: the
// median of three or more, the mean of one or two, absent for none.
func ComputeBaseline(outcome domain.ValidationOutcome) domain.BaselineResult {
	n := len(outcome.ValidValues)
	if n == 0 {
		return domain.BaselineResult{}
	}

	res := domain.BaselineResult{
		Valid:          true,
		SourceCount:    n,
		SourceStations: slices.Clone(outcome.ValidStations),
	}
	if n >= 3 {
		res.Value = median(outcome.ValidValues)
		res.Method = domain.MethodMedian
	} else {
		res.Value = stat.Mean(outcome.ValidValues, nil)
		res.Method = domain.MethodMean
	}
	return res
}

// median averages the two middle values for even counts.
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
