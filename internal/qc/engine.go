package qc

import (
	"cmp"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// DefaultAsyncWindow is how far from an asynchronous reading peer readings
// may lie and still form its local baseline.
const DefaultAsyncWindow = time.Hour

// Engine runs outlier detection over batches of readings.
type Engine struct {
	registry    *domain.Registry
	validator   *Validator
	fallback    *HistoricalProvider
	stats       *Stats
	asyncWindow time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidationThreshold sets the cross-station agreement distance in meters.
func WithValidationThreshold(threshold float64) Option {
	return func(e *Engine) { e.validator = NewValidator(e.registry, threshold) }
}

// WithFallback configures the historical baseline window and the number of
// reference stations a baseline needs before history is consulted.
func WithFallback(lookback time.Duration, minSources int) Option {
	return func(e *Engine) { e.fallback = NewHistoricalProvider(e.registry, lookback, minSources) }
}

// WithStats shares a counter set between engines.
func WithStats(s *Stats) Option {
	return func(e *Engine) { e.stats = s }
}

// WithAsyncWindow sets the peer window for the asynchronous station.
func WithAsyncWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.asyncWindow = d
		}
	}
}

// NewEngine returns an engine over registry.
func NewEngine(registry *domain.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		validator:   NewValidator(registry, DefaultValidationThreshold),
		fallback:    NewHistoricalProvider(registry, DefaultLookback, DefaultMinSources),
		stats:       &Stats{},
		asyncWindow: DefaultAsyncWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns the engine's accumulated validation counters.
func (e *Engine) Stats() ValidationStats { return e.stats.Snapshot() }

// Registry returns the station registry the engine evaluates against.
func (e *Engine) Registry() *domain.Registry { return e.registry }

// AsyncWindow returns the peer window of the asynchronous pass.
func (e *Engine) AsyncWindow() time.Duration { return e.asyncWindow }

// TimestampBaseline records how the baseline at one timestamp was derived.
type TimestampBaseline struct {
	Timestamp  time.Time                `json:"timestamp"`
	Validation domain.ValidationOutcome `json:"validation"`
	Baseline   domain.BaselineResult    `json:"baseline"`
}

// Result is the outcome of processing a batch.
type Result struct {
	Records   []domain.OutlierRecord
	Baselines []TimestampBaseline
	// Unresolved lists timestamps for which no baseline could be derived.
	// Their readings produce no records.
	Unresolved []time.Time
	// Errors holds one MissingStationProfileError per unknown station.
	Errors []error
}

// Err joins the per-station errors, or returns nil.
func (r Result) Err() error { return errors.Join(r.Errors...) }

// ExpectedValue is the baseline shifted by the station's offset.
func (e *Engine) ExpectedValue(station string, baseline float64) (float64, error) {
	p, err := e.registry.Profile(station)
	if err != nil {
		return 0, err
	}
	return baseline + p.Offset, nil
}

// Tolerance returns the station's outlier tolerance in meters.
func (e *Engine) Tolerance(station string) (float64, error) {
	p, err := e.registry.Profile(station)
	if err != nil {
		return 0, err
	}
	return p.Tolerance, nil
}

type timestampGroup struct {
	ts       time.Time
	values   map[string]float64
	stations []string
}

// Process evaluates every reading in readings. history supplies earlier
// readings for the fallback baseline; readings themselves are also
// consulted, so earlier timestamps in a batch support later ones.
//
// One record is produced per (station, timestamp). When a station reports
// twice at the same timestamp the later reading in the slice wins.
func (e *Engine) Process(readings, history []domain.Reading) Result {
	pool := make([]domain.Reading, 0, len(history)+len(readings))
	pool = append(pool, history...)
	pool = append(pool, readings...)

	var res Result
	missing := make(map[string]bool)

	for _, g := range e.groupByTimestamp(readings) {
		for _, id := range g.stations {
			if _, err := e.registry.Profile(id); err != nil && !missing[id] {
				missing[id] = true
				res.Errors = append(res.Errors, err)
			}
		}

		outcome := e.validator.Validate(g.values, "")
		e.stats.recordValidation(len(outcome.Excluded))

		baseline := e.fallback.Enhance(ComputeBaseline(outcome), pool, g.ts)
		res.Baselines = append(res.Baselines, TimestampBaseline{Timestamp: g.ts, Validation: outcome, Baseline: baseline})
		if !baseline.Valid {
			res.Unresolved = append(res.Unresolved, g.ts)
			continue
		}
		e.stats.recordBaseline()

		for _, id := range g.stations {
			if missing[id] {
				continue
			}
			rec, err := e.evaluate(id, g.ts, g.values[id], baseline, outcome.IsExcluded(id))
			if err != nil {
				continue
			}
			if rec.IsOutlier {
				e.stats.recordOutlier()
			}
			res.Records = append(res.Records, rec)
		}
	}
	return res
}

func (e *Engine) evaluate(station string, ts time.Time, actual float64, baseline domain.BaselineResult, excluded bool) (domain.OutlierRecord, error) {
	p, err := e.registry.Profile(station)
	if err != nil {
		return domain.OutlierRecord{}, err
	}
	expected := baseline.Value + p.Offset
	deviation := math.Abs(actual - expected)

	// A reference station rejected by its peers is an outlier at any
	// distance. Its tolerance is lowered to just under the deviation so that
	// deviation > tolerance still holds, which goes negative at deviation 0.
	tolerance := p.Tolerance
	if excluded {
		tolerance = math.Nextafter(min(p.Tolerance, deviation), math.Inf(-1))
	}

	return domain.OutlierRecord{
		StationID:            station,
		Timestamp:            ts,
		ActualValue:          actual,
		ExpectedValue:        expected,
		BaselineUsed:         baseline.Value,
		BaselineMethod:       baseline.Method,
		Deviation:            deviation,
		IsOutlier:            deviation > tolerance,
		ExcludedFromBaseline: excluded,
		ToleranceUsed:        tolerance,
	}, nil
}

func (e *Engine) groupByTimestamp(readings []domain.Reading) []timestampGroup {
	index := make(map[int64]int)
	var groups []timestampGroup
	for _, r := range readings {
		key := r.Timestamp.UnixNano()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, timestampGroup{ts: r.Timestamp.UTC(), values: make(map[string]float64)})
		}
		if _, seen := groups[i].values[r.StationID]; !seen {
			groups[i].stations = append(groups[i].stations, r.StationID)
		}
		groups[i].values[r.StationID] = r.Value
	}

	slices.SortFunc(groups, func(a, b timestampGroup) int { return a.ts.Compare(b.ts) })
	for i := range groups {
		slices.SortFunc(groups[i].stations, e.compareStations)
	}
	return groups
}

// compareStations orders by registry position, unknown stations last by name.
func (e *Engine) compareStations(a, b string) int {
	ra, rb := e.registry.Rank(a), e.registry.Rank(b)
	switch {
	case ra >= 0 && rb >= 0:
		return cmp.Compare(ra, rb)
	case ra >= 0:
		return -1
	case rb >= 0:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

func (e *Engine) compareRecords(a, b domain.OutlierRecord) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return e.compareStations(a.StationID, b.StationID)
}

// DetectAsynchronousOutliers validates the registry's asynchronous station
// against a local baseline: the mean, per other reference station, of its
// readings within the async window, averaged across stations. Readings with
// fewer than MinSources contributing stations are skipped. The validation
// threshold is the tolerance and outliers are marked excluded.
func (e *Engine) DetectAsynchronousOutliers(readings []domain.Reading) []domain.OutlierRecord {
	async, ok := e.registry.AsynchronousStation()
	if !ok {
		return nil
	}
	prof, _ := e.registry.Profile(async)

	peers := make(map[string][]domain.Reading)
	var targets []domain.Reading
	for _, r := range readings {
		if r.StationID == async {
			targets = append(targets, r)
			continue
		}
		if p, err := e.registry.Profile(r.StationID); err == nil && p.IsReference() {
			peers[r.StationID] = append(peers[r.StationID], r)
		}
	}
	slices.SortFunc(targets, func(a, b domain.Reading) int { return a.Timestamp.Compare(b.Timestamp) })

	tolerance := e.validator.Threshold()
	var out []domain.OutlierRecord
	for _, t := range targets {
		var means []float64
		for _, id := range e.registry.ReferenceStations() {
			var window []float64
			for _, r := range peers[id] {
				d := r.Timestamp.Sub(t.Timestamp)
				if d >= -e.asyncWindow && d <= e.asyncWindow {
					window = append(window, r.Value)
				}
			}
			if len(window) > 0 {
				means = append(means, stat.Mean(window, nil))
			}
		}
		if len(means) < e.fallback.MinSources() {
			continue
		}

		baseline := stat.Mean(means, nil)
		expected := baseline + prof.Offset
		deviation := math.Abs(t.Value - expected)
		outlier := deviation > tolerance
		if outlier {
			e.stats.recordOutlier()
		}
		out = append(out, domain.OutlierRecord{
			StationID:            async,
			Timestamp:            t.Timestamp.UTC(),
			ActualValue:          t.Value,
			ExpectedValue:        expected,
			BaselineUsed:         baseline,
			BaselineMethod:       domain.MethodMean,
			Deviation:            deviation,
			IsOutlier:            outlier,
			ExcludedFromBaseline: outlier,
			ToleranceUsed:        tolerance,
			Asynchronous:         true,
		})
	}
	return out
}

// ProcessNetwork evaluates a mixed batch. Readings of the asynchronous
// station at timestamps no other station shares go only to the asynchronous
// pass, which sees history and readings together; everything else goes
// through Process. Records of both passes are merged with MergeAsync.
func (e *Engine) ProcessNetwork(readings, history []domain.Reading) Result {
	res := e.Process(e.synchronized(readings), history)

	pool := make([]domain.Reading, 0, len(history)+len(readings))
	pool = append(pool, history...)
	pool = append(pool, readings...)
	res.Records = e.MergeAsync(res.Records, e.DetectAsynchronousOutliers(pool))
	return res
}

func (e *Engine) synchronized(readings []domain.Reading) []domain.Reading {
	async, ok := e.registry.AsynchronousStation()
	if !ok {
		return readings
	}
	shared := make(map[int64]bool)
	for _, r := range readings {
		if r.StationID != async {
			shared[r.Timestamp.UnixNano()] = true
		}
	}
	return slices.DeleteFunc(slices.Clone(readings), func(r domain.Reading) bool {
		return r.StationID == async && !shared[r.Timestamp.UnixNano()]
	})
}

// MergeAsync adds asynchronous records to the synchronized set. When both
// passes produced a record for the same (station, timestamp) the synchronized
// one is kept. The result is ordered by timestamp then registry order.
func (e *Engine) MergeAsync(synced, async []domain.OutlierRecord) []domain.OutlierRecord {
	type key struct {
		station string
		ts      int64
	}
	seen := make(map[key]bool, len(synced))
	out := make([]domain.OutlierRecord, 0, len(synced)+len(async))
	for _, r := range synced {
		seen[key{r.StationID, r.Timestamp.UnixNano()}] = true
		out = append(out, r)
	}
	for _, r := range async {
		if !seen[key{r.StationID, r.Timestamp.UnixNano()}] {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, e.compareRecords)
	return out
}
