package regime

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the rolling window in hours for feature extraction.
const DefaultWindow = 12

// Feature column indices.
const (
	FeatureLevelChange = iota
	FeatureRollingVariance
	FeatureMeanDeviation
	FeatureAcceleration
	featureCount
)

// ExtractFeatures computes one row per hourly value: first difference,
// rolling sample variance, absolute deviation from the rolling mean and second
// difference. Positions where a feature is undefined are 0.
func ExtractFeatures(values []float64, window int) [][]float64 {
	if window < 2 {
		window = DefaultWindow
	}
	rows := make([][]float64, len(values))
	for t := range values {
		row := make([]float64, featureCount)
		if t >= 1 {
			row[FeatureLevelChange] = values[t] - values[t-1]
		}
		if t >= 2 {
			row[FeatureAcceleration] = (values[t] - values[t-1]) - (values[t-1] - values[t-2])
		}
		if t >= window-1 {
			w := values[t-window+1 : t+1]
			mean, variance := stat.MeanVariance(w, nil)
			row[FeatureRollingVariance] = variance
			row[FeatureMeanDeviation] = math.Abs(values[t] - mean)
		}
		for i, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				row[i] = 0
			}
		}
		rows[t] = row
	}
	return rows
}
