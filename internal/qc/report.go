package qc

import (
	"math"
	"slices"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// DefaultReportOutliers caps the outliers listed in a report.
const DefaultReportOutliers = 500

// OutlierReport summarizes a QC run.
type OutlierReport struct {
	TotalRecords      int                    `json:"total_records"`
	OutliersDetected  int                    `json:"outliers_detected"`
	OutlierPercentage float64                `json:"outlier_percentage"`
	Validation        ValidationStats        `json:"validation"`
	Outliers          []domain.OutlierRecord `json:"outliers"`
}

// CorrectionReport lists correction suggestions.
type CorrectionReport struct {
	TotalSuggestions int                           `json:"total_suggestions"`
	Suggestions      []domain.CorrectionSuggestion `json:"suggestions"`
}

// BuildOutlierReport counts outliers in records and lists the most recent
// limit of them in time order. A non-positive limit lists all.
func BuildOutlierReport(records []domain.OutlierRecord, stats ValidationStats, limit int) OutlierReport {
	outliers := []domain.OutlierRecord{}
	for _, r := range records {
		if r.IsOutlier {
			outliers = append(outliers, r)
		}
	}
	slices.SortStableFunc(outliers, func(a, b domain.OutlierRecord) int { return a.Timestamp.Compare(b.Timestamp) })

	rep := OutlierReport{
		TotalRecords:     len(records),
		OutliersDetected: len(outliers),
		Validation:       stats,
		Outliers:         outliers,
	}
	if len(records) > 0 {
		rep.OutlierPercentage = math.Round(float64(len(outliers))/float64(len(records))*100*100) / 100
	}
	if limit > 0 && len(outliers) > limit {
		rep.Outliers = outliers[len(outliers)-limit:]
	}
	return rep
}

// BuildCorrectionReport wraps suggestions in the report envelope.
func BuildCorrectionReport(suggestions []domain.CorrectionSuggestion) CorrectionReport {
	if suggestions == nil {
		suggestions = []domain.CorrectionSuggestion{}
	}
	return CorrectionReport{TotalSuggestions: len(suggestions), Suggestions: suggestions}
}
