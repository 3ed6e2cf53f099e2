package qc

import (
	"math"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// Historical fallback defaults.
const (
	DefaultLookback   = 72 * time.Hour
	DefaultMinSources = 2
)

// HistoricalProvider substitutes a recency-weighted baseline from recent
// reference readings when too few stations report at a timestamp.
type HistoricalProvider struct {
	registry   *domain.Registry
	lookback   time.Duration
	minSources int
}

// NewHistoricalProvider returns a provider. Non-positive arguments select the
// defaults.
func NewHistoricalProvider(registry *domain.Registry, lookback time.Duration, minSources int) *HistoricalProvider {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if minSources <= 0 {
		minSources = DefaultMinSources
	}
	return &HistoricalProvider{registry: registry, lookback: lookback, minSources: minSources}
}

// MinSources returns the number of reference stations a baseline needs.
func (p *HistoricalProvider) MinSources() int { return p.minSources }

// HistoricalBaseline looks at reference readings in [ts-lookback, ts), takes
// each station's most recent value and returns their weighted mean with
// weight exp(-hours since that reading). It returns false when fewer than
// MinSources stations have a reading in the window.
func (p *HistoricalProvider) HistoricalBaseline(history []domain.Reading, ts time.Time) (domain.BaselineResult, bool) {
	from := ts.Add(-p.lookback)

	latest := make(map[string]domain.Reading)
	for _, r := range history {
		if r.Timestamp.Before(from) || !r.Timestamp.Before(ts) {
			continue
		}
		prof, err := p.registry.Profile(r.StationID)
		if err != nil || !prof.IsReference() {
			continue
		}
		if cur, ok := latest[r.StationID]; !ok || r.Timestamp.After(cur.Timestamp) {
			latest[r.StationID] = r
		}
	}
	if len(latest) < p.minSources {
		return domain.BaselineResult{}, false
	}

	var sum, weights float64
	stations := make([]string, 0, len(latest))
	for _, id := range p.registry.ReferenceStations() {
		r, ok := latest[id]
		if !ok {
			continue
		}
		w := math.Exp(-ts.Sub(r.Timestamp).Hours())
		sum += w * r.Value
		weights += w
		stations = append(stations, id)
	}
	if weights == 0 || math.IsNaN(sum/weights) {
		return domain.BaselineResult{}, false
	}

	return domain.BaselineResult{
		Value:          sum / weights,
		Valid:          true,
		SourceCount:    len(stations),
		SourceStations: stations,
		Method:         domain.MethodHistorical,
	}, true
}

// Enhance keeps current when it has at least MinSources contributors and
// otherwise tries the historical baseline. If history cannot help either, an
// under-supported current baseline is better than none.
func (p *HistoricalProvider) Enhance(current domain.BaselineResult, history []domain.Reading, ts time.Time) domain.BaselineResult {
	if current.Valid && current.SourceCount >= p.minSources {
		return current
	}
	if hist, ok := p.HistoricalBaseline(history, ts); ok {
		return hist
	}
	return current
}
