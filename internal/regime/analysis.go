package regime

import "slices"

// Surge risk levels.
const (
	RiskLow         = "Low"
	RiskLowModerate = "Low-Moderate"
	RiskModerate    = "Moderate"
	RiskHigh        = "High"
)

// Analysis summarizes the recorded regime detections.
type Analysis struct {
	CurrentRegime      string             `json:"current_regime"`
	RegimeProbability  float64            `json:"regime_probability"`
	RegimeDistribution map[string]float64 `json:"regime_distribution,omitempty"`
	SurgeRisk          string             `json:"surge_risk"`
	SurgeProbability   float64            `json:"surge_probability"`
	Warnings           []string           `json:"warnings"`
	RegimeHistory      []string           `json:"regime_history,omitempty"`
}

// Analyze builds an Analysis from detections ordered oldest first.
func Analyze(history []Regime, probs []Probabilities) Analysis {
	if len(history) == 0 || len(probs) == 0 {
		return Analysis{CurrentRegime: "Unknown", SurgeRisk: RiskLow, Warnings: []string{}}
	}

	current := history[len(history)-1]
	p := probs[len(probs)-1]
	surge := p.SurgeProbability()

	a := Analysis{
		CurrentRegime:     current.String(),
		RegimeProbability: p[current],
		RegimeDistribution: map[string]float64{
			"calm":     p[Calm],
			"moderate": p[Moderate],
			"surge":    p[Surge],
			"storm":    p[Storm],
		},
		SurgeRisk:        RiskLow,
		SurgeProbability: surge,
		Warnings:         []string{},
	}

	switch {
	case surge > 0.7:
		a.SurgeRisk = RiskHigh
		a.Warnings = append(a.Warnings, "HIGH SURGE RISK: Storm surge highly likely")
	case surge > 0.4:
		a.SurgeRisk = RiskModerate
		a.Warnings = append(a.Warnings, "MODERATE SURGE RISK: Elevated sea levels possible")
	case surge > 0.2:
		a.SurgeRisk = RiskLowModerate
		a.Warnings = append(a.Warnings, "Monitor conditions: Surge risk increasing")
	}

	if len(history) >= transitionLookback {
		recent := history[len(history)-transitionLookback:]
		if slices.Contains(recent, Calm) && slices.Contains(recent, Surge) {
			a.Warnings = append(a.Warnings, "RAPID TRANSITION: Conditions deteriorating quickly")
		}
	}

	tail := history[max(0, len(history)-historyLimit):]
	for _, r := range tail {
		a.RegimeHistory = append(a.RegimeHistory, r.String())
	}
	return a
}

// Analysis summarizes the ensemble's recorded detections.
func (e *Ensemble) Analysis() Analysis {
	e.mu.Lock()
	history, probs := slices.Clone(e.history), slices.Clone(e.probs)
	e.mu.Unlock()
	return Analyze(history, probs)
}
