package qc

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// CorrectionSuggestion proposes baseline+offset as the replacement for an
// outlying reading.
func (e *Engine) CorrectionSuggestion(station string, actual, baseline float64) (domain.CorrectionSuggestion, error) {
	p, err := e.registry.Profile(station)
	if err != nil {
		return domain.CorrectionSuggestion{}, err
	}
	suggested := baseline + p.Offset
	return domain.CorrectionSuggestion{
		StationID:           station,
		ActualValue:         actual,
		Baseline:            baseline,
		SuggestedCorrection: suggested,
		Message: fmt.Sprintf("%s reads %.3f m, %.1f cm from expected %.3f m (baseline %.3f m, offset %+.3f m); suggest %.3f m",
			station, actual, (actual-suggested)*100, suggested, baseline, p.Offset, suggested),
	}, nil
}

// SuggestCorrections produces one suggestion per outlier. Records are grouped
// by timestamp and each group uses the baseline of its first synchronized
// record, so every suggestion at a timestamp shares one reference level.
func (e *Engine) SuggestCorrections(records []domain.OutlierRecord) ([]domain.CorrectionSuggestion, error) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b domain.OutlierRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		// Synchronized records first so they set the group baseline.
		if a.Asynchronous != b.Asynchronous {
			if b.Asynchronous {
				return -1
			}
			return 1
		}
		return e.compareStations(a.StationID, b.StationID)
	})

	out := []domain.CorrectionSuggestion{}
	var (
		errs    []error
		groupTS time.Time
		base    float64
	)
	for i, r := range sorted {
		if i == 0 || !r.Timestamp.Equal(groupTS) {
			groupTS = r.Timestamp
			base = r.BaselineUsed
		}
		if !r.IsOutlier {
			continue
		}
		s, err := e.CorrectionSuggestion(r.StationID, r.ActualValue, base)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Timestamp = r.Timestamp
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}
