package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MinFitPoints is the minimum number of hourly points Fit accepts.
const MinFitPoints = 48

// FixedBandWidth is the half-width in meters of the band used when a
// forecast's predictive variance is unusable.
const FixedBandWidth = 0.1

var errNotFitted = fmt.Errorf("%w: model not fitted", domain.ErrUnavailable)

// Model is a structural time-series model for one station.
type Model struct {
	spec Spec
	fit  *fitted
}

type fitted struct {
	spec    Spec
	layout  layout
	params  Params
	series  Series
	sys     *system
	filter  filterOutput
	loglik  float64
	reduced bool
}

// Point is one forecast step.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Mean      float64   `json:"mean"`
	Lower     float64   `json:"lower_bound"`
	Upper     float64   `json:"upper_bound"`
}

// Result is a forecast run. FixedBand is set when at least one step fell
// back to the ±FixedBandWidth band.
type Result struct {
	Points    []Point `json:"points"`
	FixedBand bool    `json:"fixed_band,omitempty"`
}

// Nowcast is the filtered estimate at the last observation.
type Nowcast struct {
	Timestamp     time.Time `json:"timestamp"`
	FilteredLevel float64   `json:"filtered_level"`
	Trend         float64   `json:"trend"`
	FilteredValue float64   `json:"filtered_value"`
	Uncertainty   float64   `json:"uncertainty"`
	// ResidualBased is set when Uncertainty came from the innovation
	// standard deviation rather than the filtered covariance.
	ResidualBased bool `json:"residual_based,omitempty"`
}

// SeasonalComponent is the smoothed contribution of one tidal period.
type SeasonalComponent struct {
	Period float64   `json:"period"`
	Values []float64 `json:"values"`
}

// Decomposition splits the fitted series into smoothed components.
type Decomposition struct {
	Timestamps []time.Time         `json:"timestamps"`
	Level      []float64           `json:"level,omitempty"`
	Trend      []float64           `json:"trend,omitempty"`
	Seasonal   []SeasonalComponent `json:"seasonal,omitempty"`
	Residual   []float64           `json:"residual"`
}

// New returns an unfitted model for spec. The spec is expected to have been
// built by NewSpec.
func New(spec Spec) *Model {
	return &Model{spec: spec}
}

// Spec returns the spec the model was fitted with, which differs from the
// configured one after a degraded fit.
func (m *Model) Spec() Spec {
	if m.fit != nil {
		return m.fit.spec
	}
	return m.spec
}

// Fitted reports whether Fit has succeeded.
func (m *Model) Fitted() bool { return m.fit != nil }

// Reduced reports whether the last fit had to drop the trend.
func (m *Model) Reduced() bool { return m.fit != nil && m.fit.reduced }

// Params returns the estimated variances.
func (m *Model) Params() (Params, bool) {
	if m.fit == nil {
		return Params{}, false
	}
	p := m.fit.params
	p.Seasonal = slices.Clone(p.Seasonal)
	return p, true
}

// LogLikelihood returns the log-likelihood of the fitted parameters.
func (m *Model) LogLikelihood() float64 {
	if m.fit == nil {
		return math.NaN()
	}
	return m.fit.loglik
}

// Fit resamples readings to hourly and estimates the model.
func (m *Model) Fit(ctx context.Context, readings []domain.Reading) error {
	s, err := HourlySeries(readings)
	if err != nil {
		return err
	}
	return m.FitSeries(ctx, s)
}

// FitSeries estimates the model on an hourly series. When estimation fails
// the trend is dropped and estimation retried once. The model is left
// unchanged on error.
func (m *Model) FitSeries(ctx context.Context, s Series) error {
	if s.Len() < MinFitPoints {
		return &domain.InsufficientDataError{Op: "fit", Have: s.Len(), Need: MinFitPoints}
	}
	f, err := fitWithFallback(ctx, m.spec, s, fitSpec)
	if err != nil {
		return err
	}
	m.fit = f
	return nil
}

type fitFunc func(ctx context.Context, spec Spec, s Series) (*fitted, error)

// fitWithFallback runs fit on spec and, unless the first attempt timed out,
// once more on the reduced spec.
func fitWithFallback(ctx context.Context, spec Spec, s Series, fit fitFunc) (*fitted, error) {
	f, err := fit(ctx, spec, s)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, domain.ErrProcessingTimeout) {
		return nil, err
	}

	reduced, ok := spec.Reduced()
	if !ok {
		return nil, err
	}
	f, rerr := fit(ctx, reduced, s)
	if rerr != nil {
		if errors.Is(rerr, domain.ErrProcessingTimeout) {
			return nil, rerr
		}
		return nil, fmt.Errorf("%w (reduced spec: %v)", err, rerr)
	}
	f.reduced = true
	return f, nil
}

func fitSpec(ctx context.Context, spec Spec, s Series) (*fitted, error) {
	l := newLayout(spec)
	params, ll, err := estimate(ctx, l, s.Values, spec.MaxIterations)
	if err != nil {
		return nil, err
	}
	f := &fitted{spec: spec, layout: l, series: s}
	if err := f.refilter(params); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelFit, err)
	}
	f.loglik = ll
	return f, nil
}

// refilter runs a full filter pass at params, keeping per-step moments.
func (f *fitted) refilter(params Params) error {
	f.params = params
	f.sys = newSystem(f.layout, params)
	a, p := f.sys.initialState(f.layout, f.series.Values[0])
	fo, err := f.sys.filter(f.series.Values, a, p, f.layout.n, true)
	if err != nil {
		return err
	}
	f.filter = fo
	f.loglik = fo.loglik
	return nil
}

// WithNoise returns a copy of a fitted model with extra disturbance: the
// squares of processStd and measurementStd are added to the level and
// irregular variances and the series is filtered again. If the model has no
// level the process noise goes to every seasonal component.
func (m *Model) WithNoise(processStd, measurementStd float64) (*Model, error) {
	if m.fit == nil {
		return nil, errNotFitted
	}
	p := m.fit.params
	p.Seasonal = slices.Clone(p.Seasonal)
	p.Irregular += measurementStd * measurementStd
	if m.fit.layout.level >= 0 {
		p.Level += processStd * processStd
	} else {
		for k := range p.Seasonal {
			p.Seasonal[k] += processStd * processStd
		}
	}

	f := &fitted{spec: m.fit.spec, layout: m.fit.layout, series: m.fit.series, reduced: m.fit.reduced}
	if err := f.refilter(p); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelFit, err)
	}
	return &Model{spec: m.spec, fit: f}, nil
}

// Forecast projects steps hours past the last observation with 1-alpha
// intervals.
func (m *Model) Forecast(steps int, alpha float64) (Result, error) {
	if m.fit == nil {
		return Result{}, errNotFitted
	}
	if steps <= 0 {
		return Result{}, fmt.Errorf("forecast: steps must be positive, got %d", steps)
	}
	if !(alpha > 0 && alpha < 1) {
		return Result{}, fmt.Errorf("forecast: alpha must be in (0, 1), got %g", alpha)
	}

	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	sys := m.fit.sys
	a := slices.Clone(m.fit.filter.nextA)
	p := slices.Clone(m.fit.filter.nextP)
	end := m.fit.series.End()

	res := Result{Points: make([]Point, steps)}
	for h := 0; h < steps; h++ {
		mean := sys.observe(a)
		variance := sys.observeVariance(p) + sys.h
		half := z * math.Sqrt(variance)
		if !(variance >= 0) || math.IsInf(half, 0) || math.IsNaN(half) {
			half = FixedBandWidth
			res.FixedBand = true
		}
		res.Points[h] = Point{
			Timestamp: end.Add(time.Duration(h+1) * time.Hour),
			Mean:      mean,
			Lower:     mean - half,
			Upper:     mean + half,
		}
		sys.transition(a)
		sys.propagate(p)
	}
	return res, nil
}

// Nowcast returns the filtered state at the last observation.
func (m *Model) Nowcast() (Nowcast, error) {
	if m.fit == nil {
		return Nowcast{}, errNotFitted
	}
	f := m.fit
	n := f.layout.n
	a := f.filter.filtA

	nc := Nowcast{
		Timestamp:     f.series.End(),
		FilteredValue: f.sys.observe(a),
	}
	idx := 0
	if f.layout.level >= 0 {
		idx = f.layout.level
		nc.FilteredLevel = a[idx]
	} else {
		nc.FilteredLevel = nc.FilteredValue
	}
	if f.layout.trend >= 0 {
		nc.Trend = a[f.layout.trend]
	}

	nc.Uncertainty = math.Sqrt(f.filter.filtP[idx*n+idx])
	if math.IsNaN(nc.Uncertainty) || math.IsInf(nc.Uncertainty, 0) || nc.Uncertainty == 0 {
		nc.Uncertainty = stat.PopStdDev(f.filter.v[min(n, len(f.filter.v)-1):], nil)
		nc.ResidualBased = true
	}
	return nc, nil
}

// Decompose returns smoothed components over the fitted series. Residual is
// the one-step-ahead prediction error.
func (m *Model) Decompose() (Decomposition, error) {
	if m.fit == nil {
		return Decomposition{}, errNotFitted
	}
	f := m.fit
	states := f.sys.smooth(f.filter)
	T := len(states)

	d := Decomposition{
		Timestamps: make([]time.Time, T),
		Residual:   slices.Clone(f.filter.v),
	}
	for t := range T {
		d.Timestamps[t] = f.series.At(t)
	}
	if f.layout.level >= 0 {
		d.Level = column(states, f.layout.level)
	}
	if f.layout.trend >= 0 {
		d.Trend = column(states, f.layout.trend)
	}
	for _, slot := range f.layout.seasonal {
		vals := make([]float64, T)
		for t, st := range states {
			for j := 0; j < slot.harmonics; j++ {
				vals[t] += st[slot.start+2*j]
			}
		}
		d.Seasonal = append(d.Seasonal, SeasonalComponent{Period: slot.period, Values: vals})
	}
	return d, nil
}

func column(rows [][]float64, j int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[j]
	}
	return out
}
