package forecast

import (
	"errors"
	"fmt"
	"slices"
)

// DefaultTidalPeriods are the M2, S2, K1 and O1 constituent periods in hours.
var DefaultTidalPeriods = []float64{12.42, 12.00, 24.07, 25.82}

const (
	DefaultHarmonics     = 2
	DefaultMaxIterations = 100
)

// ErrInvalidSpec is returned for model configurations that cannot be built.
var ErrInvalidSpec = errors.New("invalid model spec")

// Seasonal is one trigonometric seasonal component.
type Seasonal struct {
	Period    float64 `json:"period"`
	Harmonics int     `json:"harmonics"`
}

// Spec selects the model components. Build one with NewSpec.
type Spec struct {
	Level         bool       `json:"level"`
	Trend         bool       `json:"trend"`
	Seasonal      []Seasonal `json:"seasonal"`
	MaxIterations int        `json:"max_iterations"`
}

// Option adjusts a Spec under construction.
type Option func(*Spec)

// WithLevel toggles the stochastic level.
func WithLevel(on bool) Option { return func(s *Spec) { s.Level = on } }

// WithTrend toggles the stochastic trend. A trend needs a level.
func WithTrend(on bool) Option { return func(s *Spec) { s.Trend = on } }

// WithSeasonal replaces the seasonal bank with periods at the given harmonics.
func WithSeasonal(periods []float64, harmonics int) Option {
	return func(s *Spec) {
		s.Seasonal = nil
		for _, p := range periods {
			s.Seasonal = append(s.Seasonal, Seasonal{Period: p, Harmonics: harmonics})
		}
	}
}

// WithoutSeasonal removes every seasonal component.
func WithoutSeasonal() Option { return func(s *Spec) { s.Seasonal = nil } }

// WithMaxIterations bounds the optimizer's major iterations.
func WithMaxIterations(n int) Option { return func(s *Spec) { s.MaxIterations = n } }

// NewSpec starts from DefaultSpec, applies opts and validates the result.
func NewSpec(opts ...Option) (Spec, error) {
	s := DefaultSpec()
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// DefaultSpec is a local linear trend plus the default tidal bank.
func DefaultSpec() Spec {
	s := Spec{Level: true, Trend: true, MaxIterations: DefaultMaxIterations}
	for _, p := range DefaultTidalPeriods {
		s.Seasonal = append(s.Seasonal, Seasonal{Period: p, Harmonics: DefaultHarmonics})
	}
	return s
}

// Validate reports the first structural problem with s.
func (s Spec) Validate() error {
	if s.Trend && !s.Level {
		return fmt.Errorf("%w: trend requires a stochastic level", ErrInvalidSpec)
	}
	if !s.Level && len(s.Seasonal) == 0 {
		return fmt.Errorf("%w: no components", ErrInvalidSpec)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidSpec, s.MaxIterations)
	}
	seen := make([]float64, 0, len(s.Seasonal))
	for _, c := range s.Seasonal {
		if c.Harmonics < 1 {
			return fmt.Errorf("%w: period %g: harmonics must be at least 1", ErrInvalidSpec, c.Period)
		}
		// The highest harmonic must stay below the Nyquist frequency.
		if c.Period <= 2*float64(c.Harmonics) {
			return fmt.Errorf("%w: period %g too short for %d harmonics", ErrInvalidSpec, c.Period, c.Harmonics)
		}
		if slices.Contains(seen, c.Period) {
			return fmt.Errorf("%w: duplicate period %g", ErrInvalidSpec, c.Period)
		}
		seen = append(seen, c.Period)
	}
	return nil
}

// Reduced returns s without its trend, or false if there is nothing to strip.
func (s Spec) Reduced() (Spec, bool) {
	if !s.Trend {
		return s, false
	}
	r := s
	r.Trend = false
	r.Seasonal = slices.Clone(s.Seasonal)
	return r, true
}

// States returns the state dimension of the model.
func (s Spec) States() int {
	n := 0
	if s.Level {
		n++
	}
	if s.Trend {
		n++
	}
	for _, c := range s.Seasonal {
		n += 2 * c.Harmonics
	}
	return n
}
