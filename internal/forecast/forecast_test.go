package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

var start = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

// --- tests ---

func TestNewSpec(t *testing.T) {
	s, err := NewSpec()
	require.NoError(t, err)
	assert.True(t, s.Level)
	assert.True(t, s.Trend)
	assert.Len(t, s.Seasonal, 4)
	assert.Equal(t, 2+4*2*2, s.States())

	tests := []struct {
		name string
		opts []Option
	}{
		{"trend without level", []Option{WithLevel(false)}},
		{"no components", []Option{WithLevel(false), WithTrend(false), WithoutSeasonal()}},
		{"zero harmonics", []Option{WithSeasonal([]float64{12.42}, 0)}},
		{"period at nyquist", []Option{WithSeasonal([]float64{4}, 2)}},
		{"duplicate period", []Option{WithSeasonal([]float64{12, 12}, 1)}},
		{"no iterations", []Option{WithMaxIterations(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpec(tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestSpecReduced(t *testing.T) {
	r, ok := DefaultSpec().Reduced()
	require.True(t, ok)
	assert.False(t, r.Trend)
	assert.True(t, r.Level)
	assert.NoError(t, r.Validate())

	_, ok = r.Reduced()
	assert.False(t, ok)
}

func TestHourlySeries(t *testing.T) {
	t.Run("buckets and interpolates", func(t *testing.T) {
		s, err := HourlySeries([]domain.Reading{
			{Timestamp: start.Add(3*time.Hour + 10*time.Minute), Value: 0.4},
			{Timestamp: start, Value: 0.1},
			{Timestamp: start.Add(20 * time.Minute), Value: 0.3},
			{Timestamp: start.Add(3*time.Hour + 40*time.Minute), Value: 0.6},
			{Timestamp: start.Add(time.Hour), Value: math.NaN()},
		})
		require.NoError(t, err)

		assert.Equal(t, start, s.Start)
		require.Equal(t, 4, s.Len())
		assert.InDeltaSlice(t, []float64{0.2, 0.3, 0.4, 0.5}, s.Values, 1e-12)
		assert.Equal(t, start.Add(3*time.Hour), s.End())
	})

	t.Run("single bucket", func(t *testing.T) {
		s, err := HourlySeries([]domain.Reading{{Timestamp: start, Value: 0.4}})
		require.NoError(t, err)
		assert.Equal(t, []float64{0.4}, s.Values)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := HourlySeries(nil)
		assert.ErrorIs(t, err, domain.ErrInsufficientData)
	})

	t.Run("tail", func(t *testing.T) {
		s := Series{Start: start, Values: []float64{1, 2, 3, 4}}
		tail := s.Tail(2)
		assert.Equal(t, []float64{3, 4}, tail.Values)
		assert.Equal(t, start.Add(2*time.Hour), tail.Start)
		assert.Equal(t, s, s.Tail(10))
	})
}

func TestFitInsufficientData(t *testing.T) {
	m := New(DefaultSpec())

	err := m.Fit(context.Background(), tideReadings(47))

	var ide *domain.InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 47, ide.Have)
	assert.Equal(t, MinFitPoints, ide.Need)
	assert.False(t, m.Fitted())
}

func TestFitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(DefaultSpec())

	err := m.Fit(ctx, tideReadings(200))

	assert.ErrorIs(t, err, domain.ErrProcessingTimeout)
	assert.False(t, m.Fitted())
}

func TestForecast(t *testing.T) {
	m := fittedModel(t)

	res, err := m.Forecast(240, 0.05)
	require.NoError(t, err)
	require.Len(t, res.Points, 240)
	assert.False(t, res.FixedBand)

	last := start.Add(719 * time.Hour)
	for i, p := range res.Points {
		assert.Equal(t, last.Add(time.Duration(i+1)*time.Hour), p.Timestamp)
		assert.LessOrEqual(t, p.Lower, p.Mean)
		assert.LessOrEqual(t, p.Mean, p.Upper)
	}

	// The signal is built from the modelled constituents, so the first day
	// should track it closely.
	var mae float64
	for i := 0; i < 24; i++ {
		mae += math.Abs(res.Points[i].Mean - tide(720+i))
	}
	assert.Less(t, mae/24, 0.05)

	wider, err := m.Forecast(24, 0.01)
	require.NoError(t, err)
	assert.Greater(t, wider.Points[0].Upper-wider.Points[0].Lower, res.Points[0].Upper-res.Points[0].Lower)
}

func TestForecastArguments(t *testing.T) {
	_, err := New(DefaultSpec()).Forecast(10, 0.05)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	m := fittedModel(t)
	_, err = m.Forecast(0, 0.05)
	assert.Error(t, err)
	_, err = m.Forecast(10, 1)
	assert.Error(t, err)
}

func TestNowcast(t *testing.T) {
	m := fittedModel(t)

	nc, err := m.Nowcast()
	require.NoError(t, err)

	assert.Equal(t, start.Add(719*time.Hour), nc.Timestamp)
	assert.InDelta(t, tide(719), nc.FilteredValue, 0.05)
	assert.Greater(t, nc.Uncertainty, 0.0)
	assert.False(t, math.IsInf(nc.Uncertainty, 0))
}

func TestDecompose(t *testing.T) {
	m := fittedModel(t)

	d, err := m.Decompose()
	require.NoError(t, err)

	require.Len(t, d.Timestamps, 720)
	require.Len(t, d.Level, 720)
	require.Len(t, d.Residual, 720)
	require.Len(t, d.Seasonal, len(m.Spec().Seasonal))
	if m.Spec().Trend {
		assert.Len(t, d.Trend, 720)
	}

	var diff float64
	for i := range d.Level {
		sum := d.Level[i]
		for _, c := range d.Seasonal {
			sum += c.Values[i]
		}
		diff += math.Abs(sum - tide(i))
	}
	assert.Less(t, diff/720, 0.03)
}

func TestWithNoise(t *testing.T) {
	_, err := New(DefaultSpec()).WithNoise(0.1, 0.1)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	m := fittedModel(t)
	noisy, err := m.WithNoise(0.05, 0.05)
	require.NoError(t, err)

	base, _ := m.Params()
	p, _ := noisy.Params()
	assert.InDelta(t, base.Irregular+0.0025, p.Irregular, 1e-12)
	assert.InDelta(t, base.Level+0.0025, p.Level, 1e-12)

	a, err := m.Forecast(1, 0.05)
	require.NoError(t, err)
	b, err := noisy.Forecast(1, 0.05)
	require.NoError(t, err)
	assert.Greater(t, b.Points[0].Upper-b.Points[0].Lower, a.Points[0].Upper-a.Points[0].Lower)
}

func TestFilterConvergesOnConstantSeries(t *testing.T) {
	spec, err := NewSpec(WithTrend(false), WithoutSeasonal())
	require.NoError(t, err)
	l := newLayout(spec)
	sys := newSystem(l, Params{Irregular: 1e-4, Level: 1e-6})

	y := make([]float64, 100)
	for i := range y {
		y[i] = 0.42
	}
	a, p := sys.initialState(l, 0)
	fo, err := sys.filter(y, a, p, l.n, true)
	require.NoError(t, err)

	assert.InDelta(t, 0.42, fo.filtA[0], 1e-6)
	assert.Less(t, fo.filtP[0], 1e-4)
	for _, st := range sys.smooth(fo)[1:] {
		assert.InDelta(t, 0.42, st[0], 1e-6)
	}
}

func TestRecords(t *testing.T) {
	points := []Point{{Timestamp: start, Mean: 0.3, Lower: 0.2, Upper: 0.4}}
	nc := &Nowcast{Timestamp: start.Add(-time.Hour), FilteredValue: 0.31, Uncertainty: 0.02}

	data, err := json.Marshal(Records(points, nc))
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"ds":"2025-09-30T23:00:00Z","yhat":0.31,"type":"nowcast","uncertainty":0.02},
		{"ds":"2025-10-01T00:00:00Z","yhat":0.3,"yhat_lower":0.2,"yhat_upper":0.4}
	]`, string(data))

	assert.NotNil(t, Records(nil, nil))
}

func TestFitFallsBackToReducedSpec(t *testing.T) {
	s, err := HourlySeries(tideReadings(200))
	require.NoError(t, err)
	spec, err := NewSpec(WithMaxIterations(20))
	require.NoError(t, err)

	t.Run("trend dropped after failure", func(t *testing.T) {
		var trend []bool
		fit := func(ctx context.Context, sp Spec, s Series) (*fitted, error) {
			trend = append(trend, sp.Trend)
			if sp.Trend {
				return nil, fmt.Errorf("%w: simplex diverged", domain.ErrModelFit)
			}
			return fitSpec(ctx, sp, s)
		}

		f, err := fitWithFallback(context.Background(), spec, s, fit)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false}, trend)

		m := &Model{spec: spec, fit: f}
		assert.True(t, m.Reduced())
		assert.False(t, m.Spec().Trend)
		assert.True(t, m.Spec().Level)
		_, err = m.Forecast(12, 0.05)
		assert.NoError(t, err)
	})

	t.Run("both attempts fail", func(t *testing.T) {
		calls := 0
		fit := func(context.Context, Spec, Series) (*fitted, error) {
			calls++
			return nil, fmt.Errorf("%w: attempt %d", domain.ErrModelFit, calls)
		}

		_, err := fitWithFallback(context.Background(), spec, s, fit)
		assert.ErrorIs(t, err, domain.ErrModelFit)
		assert.ErrorContains(t, err, "reduced spec: model fit failed: attempt 2")
		assert.Equal(t, 2, calls)
	})

	t.Run("timeout is not retried", func(t *testing.T) {
		calls := 0
		fit := func(context.Context, Spec, Series) (*fitted, error) {
			calls++
			return nil, fmt.Errorf("%w: %w", domain.ErrProcessingTimeout, context.DeadlineExceeded)
		}

		_, err := fitWithFallback(context.Background(), spec, s, fit)
		assert.ErrorIs(t, err, domain.ErrProcessingTimeout)
		assert.Equal(t, 1, calls)
	})
}

func TestForecastFixedBand(t *testing.T) {
	m := fittedModel(t)
	f := *m.fit
	sys := *f.sys
	sys.h = -1e6
	f.sys = &sys
	broken := &Model{spec: m.spec, fit: &f}

	res, err := broken.Forecast(6, 0.05)
	require.NoError(t, err)

	assert.True(t, res.FixedBand)
	for _, p := range res.Points {
		assert.InDelta(t, FixedBandWidth, p.Upper-p.Mean, 1e-12)
		assert.InDelta(t, FixedBandWidth, p.Mean-p.Lower, 1e-12)
	}
}

func TestNowcastResidualFallback(t *testing.T) {
	m := fittedModel(t)
	f := *m.fit
	f.filter.filtP = make([]float64, len(m.fit.filter.filtP))
	degenerate := &Model{spec: m.spec, fit: &f}

	nc, err := degenerate.Nowcast()
	require.NoError(t, err)

	assert.True(t, nc.ResidualBased)
	assert.InDelta(t, stat.PopStdDev(m.fit.filter.v[m.fit.layout.n:], nil), nc.Uncertainty, 1e-12)
	assert.Greater(t, nc.Uncertainty, 0.0)

	healthy, err := m.Nowcast()
	require.NoError(t, err)
	assert.False(t, healthy.ResidualBased)
}

func TestValidate(t *testing.T) {
	m := fittedModel(t)
	test := Series{Start: start.Add(720 * time.Hour), Values: make([]float64, 48)}
	for i := range test.Values {
		test.Values[i] = tide(720 + i)
	}

	v, err := m.Validate(test, 24)
	require.NoError(t, err)

	assert.Equal(t, 24, v.Windows)
	assert.Equal(t, 24, v.Horizon)
	assert.Less(t, v.MAE, 0.05)
	assert.GreaterOrEqual(t, v.RMSE, v.MAE)

	t.Run("rejected input", func(t *testing.T) {
		_, err := New(DefaultSpec()).Validate(test, 24)
		assert.ErrorIs(t, err, domain.ErrUnavailable)

		_, err = m.Validate(test, 0)
		assert.Error(t, err)

		_, err = m.Validate(Series{Start: start, Values: test.Values}, 24)
		assert.ErrorContains(t, err, "test series starts at")

		_, err = m.Validate(test, 48)
		assert.ErrorIs(t, err, domain.ErrInsufficientData)
	})
}

func TestSeriesSplit(t *testing.T) {
	s := Series{Start: start, Values: []float64{1, 2, 3, 4}}

	head, rest := s.Split(3)
	assert.Equal(t, Series{Start: start, Values: []float64{1, 2, 3}}, head)
	assert.Equal(t, start.Add(3*time.Hour), rest.Start)
	assert.Equal(t, []float64{4}, rest.Values)

	head, rest = s.Split(10)
	assert.Equal(t, 4, head.Len())
	assert.Equal(t, 0, rest.Len())
}

// --- helpers ---

var (
	sharedOnce  sync.Once
	sharedModel *Model
	sharedErr   error
)

// fittedModel fits one model on 30 days of synthetic tide and shares it
// across tests.
func fittedModel(t *testing.T) *Model {
	t.Helper()
	sharedOnce.Do(func() {
		spec, err := NewSpec(WithMaxIterations(60))
		if err != nil {
			sharedErr = err
			return
		}
		sharedModel = New(spec)
		sharedErr = sharedModel.Fit(context.Background(), tideReadings(720))
	})
	require.NoError(t, sharedErr)
	return sharedModel
}

// tide is a deterministic mixed semidiurnal signal with a little
// high-frequency wobble standing in for noise.
func tide(h int) float64 {
	x := float64(h)
	return 0.3 +
		0.25*math.Sin(2*math.Pi*x/12.42) +
		0.08*math.Sin(2*math.Pi*x/12.00+0.5) +
		0.10*math.Sin(2*math.Pi*x/24.07+1) +
		0.06*math.Sin(2*math.Pi*x/25.82) +
		0.004*math.Sin(x*1.7)*math.Cos(x*0.31)
}

func tideReadings(n int) []domain.Reading {
	out := make([]domain.Reading, n)
	for i := range out {
		out[i] = domain.Reading{StationID: "Yafo", Timestamp: start.Add(time.Duration(i) * time.Hour), Value: tide(i)}
	}
	return out
}
