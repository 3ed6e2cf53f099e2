package regime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/couchcryptid/sealevel-monitor/internal/forecast"
)

const (
	historyLimit       = 24
	defaultAlpha       = 0.05
	transitionLookback = 3
)

// Prediction is a probability-weighted blend of the regime forecasts.
type Prediction struct {
	Points            []forecast.Point `json:"points"`
	Regime            Regime           `json:"regime"`
	RegimeProbability float64          `json:"regime_probability"`
	Probabilities     Probabilities    `json:"probabilities"`
	SurgeWarning      bool             `json:"surge_warning"`
	SurgeLevel        float64          `json:"surge_level"`
	FixedBand         bool             `json:"fixed_band,omitempty"`
	// Skipped lists regimes whose forecast failed and were left out of the
	// blend.
	Skipped []Regime `json:"skipped,omitempty"`
}

// Ensemble keeps one forecaster per regime, all derived from a single fit.
// Fit must not run concurrently with other methods; Predict and Analysis
// may be called from multiple goroutines once fitted.
type Ensemble struct {
	spec     forecast.Spec
	alpha    float64
	detector *Detector
	base     *forecast.Model
	models   [Count]*forecast.Model

	mu      sync.Mutex
	history []Regime
	probs   []Probabilities
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithAlpha sets the confidence level of forecast bounds to 1-alpha.
func WithAlpha(alpha float64) EnsembleOption {
	return func(e *Ensemble) { e.alpha = alpha }
}

// WithDetector replaces the default detector.
func WithDetector(d *Detector) EnsembleOption {
	return func(e *Ensemble) { e.detector = d }
}

// NewEnsemble returns an unfitted ensemble over spec.
func NewEnsemble(spec forecast.Spec, opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{spec: spec, alpha: defaultAlpha, detector: NewDetector(0, 0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fit estimates the base model once, derives each regime's model from it with
// that regime's noise settings and trains the detector on the same series.
func (e *Ensemble) Fit(ctx context.Context, history []domain.Reading) error {
	series, err := forecast.HourlySeries(history)
	if err != nil {
		return err
	}

	base := forecast.New(e.spec)
	if err := base.FitSeries(ctx, series); err != nil {
		return err
	}

	var models [Count]*forecast.Model
	for _, r := range All() {
		cfg := r.Config()
		m, err := base.WithNoise(cfg.ProcessNoise, cfg.MeasurementNoise)
		if err != nil {
			return fmt.Errorf("derive %s model: %w", r, err)
		}
		models[r] = m
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrProcessingTimeout, err)
	}
	if err := e.detector.Train(series.Values); err != nil {
		return err
	}

	e.base, e.models = base, models
	return nil
}

// Fitted reports whether Fit has succeeded.
func (e *Ensemble) Fitted() bool { return e.base != nil }

// Base returns the model every regime model was derived from.
func (e *Ensemble) Base() *forecast.Model { return e.base }

// Model returns the forecaster of regime r.
func (e *Ensemble) Model(r Regime) *forecast.Model { return e.models[r] }

// Predict detects the current regime from history, records it, and returns
// the blended forecast.
func (e *Ensemble) Predict(ctx context.Context, history []domain.Reading, steps int) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", domain.ErrProcessingTimeout, err)
	}
	if !e.Fitted() {
		return Prediction{}, fmt.Errorf("%w: ensemble not fitted", domain.ErrUnavailable)
	}
	series, err := forecast.HourlySeries(history)
	if err != nil {
		return Prediction{}, err
	}

	_, probs, err := e.detector.Detect(ExtractFeatures(series.Values, e.detector.Window()))
	if err != nil {
		return Prediction{}, err
	}
	e.record(probs)
	return e.PredictWith(probs, steps)
}

// PredictWith blends the regime forecasts with the given probabilities. It
// does not touch the regime history.
func (e *Ensemble) PredictWith(probs Probabilities, steps int) (Prediction, error) {
	if !e.Fitted() {
		return Prediction{}, fmt.Errorf("%w: ensemble not fitted", domain.ErrUnavailable)
	}
	probs, err := probs.Normalize()
	if err != nil {
		return Prediction{}, err
	}

	pred := Prediction{Probabilities: probs}
	var (
		results [Count]forecast.Result
		ok      [Count]bool
		total   float64
		errs    []error
	)
	for _, r := range All() {
		res, err := e.models[r].Forecast(steps, e.alpha)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s forecast: %w", r, err))
			pred.Skipped = append(pred.Skipped, r)
			continue
		}
		results[r], ok[r] = res, true
		total += probs[r]
		pred.FixedBand = pred.FixedBand || res.FixedBand
	}
	if total == 0 {
		if len(errs) == 0 {
			errs = append(errs, errors.New("no probability mass on a usable regime"))
		}
		return Prediction{}, fmt.Errorf("%w: %w", domain.ErrModelFit, errors.Join(errs...))
	}

	pred.Points = make([]forecast.Point, steps)
	for _, r := range All() {
		if !ok[r] {
			continue
		}
		w := probs[r] / total
		for i, p := range results[r].Points {
			out := &pred.Points[i]
			out.Timestamp = p.Timestamp
			out.Mean += w * p.Mean
			out.Lower += w * p.Lower
			out.Upper += w * p.Upper
		}
	}

	pred.Regime = probs.Dominant()
	pred.RegimeProbability = probs[pred.Regime]
	if pred.Regime.IsSurge() {
		pred.SurgeWarning = true
		pred.SurgeLevel = pred.Regime.Config().SurgeThreshold
	}
	return pred, nil
}

func (e *Ensemble) record(p Probabilities) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, p.Dominant())
	e.probs = append(e.probs, p)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
		e.probs = e.probs[len(e.probs)-historyLimit:]
	}
}
