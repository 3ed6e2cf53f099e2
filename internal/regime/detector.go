package regime

import (
	"fmt"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// DefaultDetectionSpan is how many trailing feature rows Detect filters over.
const DefaultDetectionSpan = 48

// Detector classifies recent features into a regime.
type Detector struct {
	window int
	span   int
	hmm    *HMM
}

// NewDetector returns an untrained detector using a rolling window of the
// given length. Non-positive values select the defaults.
func NewDetector(window, span int) *Detector {
	if window < 2 {
		window = DefaultWindow
	}
	if span <= 0 {
		span = DefaultDetectionSpan
	}
	return &Detector{window: window, span: span}
}

// Window returns the feature window in hours.
func (d *Detector) Window() int { return d.window }

// Trained reports whether Train has succeeded.
func (d *Detector) Trained() bool { return d.hmm != nil }

// Train fits the regime model on an hourly series.
func (d *Detector) Train(values []float64) error {
	h, err := TrainHMM(ExtractFeatures(values, d.window))
	if err != nil {
		return fmt.Errorf("train regime detector: %w", err)
	}
	d.hmm = h
	return nil
}

// Detect returns the most probable current regime and the full distribution
// given feature rows ending at the current hour. Only the last span rows are
// used.
func (d *Detector) Detect(features [][]float64) (Regime, Probabilities, error) {
	if d.hmm == nil {
		return Calm, Certain(Calm), fmt.Errorf("%w: regime detector not trained", domain.ErrUnavailable)
	}
	if len(features) > d.span {
		features = features[len(features)-d.span:]
	}
	post, err := d.hmm.Filter(features)
	if err != nil {
		return Calm, Certain(Calm), err
	}

	p, err := d.hmm.Regimes(post).Normalize()
	if err != nil {
		return Calm, Certain(Calm), err
	}
	return p.Dominant(), p, nil
}
