package qc

import "sync/atomic"

// Stats accumulates validation counters across a processing run. It is safe
// for concurrent use.
type Stats struct {
	validations  atomic.Int64
	exclusions   atomic.Int64
	outliers     atomic.Int64
	baselineRuns atomic.Int64
}

// ValidationStats is a point-in-time copy of Stats.
type ValidationStats struct {
	TotalValidations     int64   `json:"total_validations"`
	TotalExclusions      int64   `json:"total_exclusions"`
	ExclusionRate        float64 `json:"exclusion_rate"`
	OutliersDetected     int64   `json:"outliers_detected"`
	BaselineCalculations int64   `json:"baseline_calculations"`
}

func (s *Stats) recordValidation(excluded int) {
	s.validations.Add(1)
	s.exclusions.Add(int64(excluded))
}

func (s *Stats) recordBaseline() { s.baselineRuns.Add(1) }

func (s *Stats) recordOutlier() { s.outliers.Add(1) }

// Snapshot returns the current counters. ExclusionRate is exclusions per
// validation as a percentage.
func (s *Stats) Snapshot() ValidationStats {
	out := ValidationStats{
		TotalValidations:     s.validations.Load(),
		TotalExclusions:      s.exclusions.Load(),
		OutliersDetected:     s.outliers.Load(),
		BaselineCalculations: s.baselineRuns.Load(),
	}
	if out.TotalValidations > 0 {
		out.ExclusionRate = float64(out.TotalExclusions) / float64(out.TotalValidations) * 100
	}
	return out
}
