package forecast

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	// penalty replaces the negative log-likelihood where the filter breaks
	// down so the simplex moves away from that region.
	penalty = 1e12

	minLogVariance = -30.0
	maxLogVariance = 5.0
)

// initial variance ratios relative to the sample variance of the series.
const (
	initIrregular = 0.1
	initLevel     = 0.01
	initTrend     = 1e-4
	initSeasonal  = 1e-3
)

// contextRecorder aborts the optimizer once ctx is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

func paramCount(l layout) int {
	n := 1 + len(l.seasonal)
	if l.level >= 0 {
		n++
	}
	if l.trend >= 0 {
		n++
	}
	return n
}

// paramsFromLog maps the optimizer's unconstrained vector onto variances.
// Order: irregular, level, trend, then one per seasonal component.
func paramsFromLog(l layout, x []float64) Params {
	v := func(i int) float64 {
		return math.Exp(math.Max(minLogVariance, math.Min(maxLogVariance, x[i])))
	}
	p := Params{Irregular: v(0)}
	i := 1
	if l.level >= 0 {
		p.Level = v(i)
		i++
	}
	if l.trend >= 0 {
		p.Trend = v(i)
		i++
	}
	p.Seasonal = make([]float64, len(l.seasonal))
	for k := range l.seasonal {
		p.Seasonal[k] = v(i)
		i++
	}
	return p
}

func initialLogParams(l layout, y []float64) []float64 {
	scale := stat.Variance(y, nil)
	if !(scale > 0) || math.IsInf(scale, 0) {
		scale = 1e-4
	}
	x := []float64{math.Log(initIrregular * scale)}
	if l.level >= 0 {
		x = append(x, math.Log(initLevel*scale))
	}
	if l.trend >= 0 {
		x = append(x, math.Log(initTrend*scale))
	}
	for range l.seasonal {
		x = append(x, math.Log(initSeasonal*scale))
	}
	return x
}

// loglikelihood runs the filter at params and returns its log-likelihood.
func loglikelihood(l layout, p Params, y []float64) (float64, error) {
	sys := newSystem(l, p)
	a, P := sys.initialState(l, y[0])
	fo, err := sys.filter(y, a, P, l.n, false)
	if err != nil {
		return 0, err
	}
	return fo.loglik, nil
}

// estimate finds maximum-likelihood variances with Nelder-Mead.
func estimate(ctx context.Context, l layout, y []float64, maxIter int) (Params, float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			ll, err := loglikelihood(l, paramsFromLog(l, x), y)
			if err != nil || math.IsNaN(ll) || math.IsInf(ll, 0) {
				return penalty
			}
			return -ll
		},
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		FuncEvaluations: maxIter * 4 * paramCount(l),
		Converger:       &optimize.FunctionConverge{Absolute: 1e-6, Relative: 1e-8, Iterations: 25},
		Recorder:        contextRecorder{ctx: ctx},
	}

	res, err := optimize.Minimize(problem, initialLogParams(l, y), settings, &optimize.NelderMead{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Params{}, 0, fmt.Errorf("%w: %w", domain.ErrProcessingTimeout, ctxErr)
	}
	if err != nil {
		return Params{}, 0, fmt.Errorf("%w: %w", domain.ErrModelFit, err)
	}
	if res.Status == optimize.Failure || !(res.F < penalty) {
		return Params{}, 0, fmt.Errorf("%w: optimizer status %v", domain.ErrModelFit, res.Status)
	}
	return paramsFromLog(l, res.X), -res.F, nil
}
