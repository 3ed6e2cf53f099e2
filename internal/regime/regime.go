// Package regime detects the current sea-level regime with a hidden Markov
// model and blends per-regime forecasts into one ensemble prediction.
package regime

import (
	"fmt"
	"math"
)

// Regime is a qualitative state of sea-level dynamics.
type Regime int

const (
	Calm Regime = iota
	Moderate
	Surge
	Storm
)

// Count is the number of regimes.
const Count = 4

// Config holds the noise settings and alert threshold of a regime. All
// values are in meters or squared meters.
type Config struct {
	ProcessNoise     float64 `json:"process_noise"`
	MeasurementNoise float64 `json:"measurement_noise"`
	// TrendVariance is reported but not applied; regime models share the
	// base model's trend variance.
	TrendVariance  float64 `json:"trend_variance"`
	SurgeThreshold float64 `json:"surge_threshold"`
}

var (
	names   = [Count]string{"Calm", "Moderate", "Surge", "Storm"}
	configs = [Count]Config{
		{ProcessNoise: 0.001, MeasurementNoise: 0.01, TrendVariance: 0.0001, SurgeThreshold: 0.1},
		{ProcessNoise: 0.01, MeasurementNoise: 0.02, TrendVariance: 0.001, SurgeThreshold: 0.3},
		{ProcessNoise: 0.05, MeasurementNoise: 0.05, TrendVariance: 0.01, SurgeThreshold: 0.5},
		{ProcessNoise: 0.1, MeasurementNoise: 0.1, TrendVariance: 0.05, SurgeThreshold: 1.0},
	}
)

// All returns every regime in escalating order.
func All() []Regime { return []Regime{Calm, Moderate, Surge, Storm} }

// Valid reports whether r is one of the four regimes.
func (r Regime) Valid() bool { return r >= Calm && r <= Storm }

func (r Regime) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Regime(%d)", int(r))
	}
	return names[r]
}

// Config returns the regime's settings. It panics for invalid regimes.
func (r Regime) Config() Config { return configs[r] }

// ForVolatility returns the calmest regime whose surge threshold is at least
// std, a rolling standard deviation in meters. Anything above the Surge
// threshold is Storm.
func ForVolatility(std float64) Regime {
	for _, r := range All()[:Count-1] {
		if std <= configs[r].SurgeThreshold {
			return r
		}
	}
	return Storm
}

// IsSurge reports whether the regime raises a surge warning.
func (r Regime) IsSurge() bool { return r == Surge || r == Storm }

// MarshalText encodes the regime by name.
func (r Regime) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("regime: invalid value %d", int(r))
	}
	return []byte(names[r]), nil
}

// UnmarshalText decodes a regime name.
func (r *Regime) UnmarshalText(b []byte) error {
	for i, n := range names {
		if n == string(b) {
			*r = Regime(i)
			return nil
		}
	}
	return fmt.Errorf("regime: unknown name %q", b)
}

// Probabilities is a distribution over regimes indexed by Regime.
type Probabilities [Count]float64

// Certain puts all mass on r.
func Certain(r Regime) Probabilities {
	var p Probabilities
	p[r] = 1
	return p
}

// Of returns the probability of r.
func (p Probabilities) Of(r Regime) float64 { return p[r] }

// Dominant returns the most probable regime, preferring the calmer on ties.
func (p Probabilities) Dominant() Regime {
	best := Calm
	for _, r := range All()[1:] {
		if p[r] > p[best] {
			best = r
		}
	}
	return best
}

// SurgeProbability is P(Surge) + P(Storm).
func (p Probabilities) SurgeProbability() float64 { return p[Surge] + p[Storm] }

// Normalize rescales p to sum to 1. It fails when p has a negative or
// non-finite entry or no mass.
func (p Probabilities) Normalize() (Probabilities, error) {
	var sum float64
	for _, v := range p {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Probabilities{}, fmt.Errorf("regime: invalid probability %g", v)
		}
		sum += v
	}
	if sum == 0 {
		return Probabilities{}, fmt.Errorf("regime: probabilities sum to zero")
	}
	for i := range p {
		p[i] /= sum
	}
	return p, nil
}
