package forecast

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// Validation is the rolling-origin accuracy of a fitted model on held-out
// data.
type Validation struct {
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	Windows int     `json:"validation_windows"`
	Horizon int     `json:"horizon"`
}

// Validate scores forecasts against test, which must continue the fitted
// series hour for hour. Window i forecasts horizon steps from an origin that
// has seen the first i test points; the parameters stay as fitted. Errors are
// pooled over every window and step.
func (m *Model) Validate(test Series, horizon int) (Validation, error) {
	if m.fit == nil {
		return Validation{}, errNotFitted
	}
	if horizon <= 0 {
		return Validation{}, fmt.Errorf("validate: horizon must be positive, got %d", horizon)
	}
	if want := m.fit.series.End().Add(time.Hour); !test.Start.Equal(want) {
		return Validation{}, fmt.Errorf("validate: test series starts at %s, want %s",
			test.Start.Format(time.RFC3339), want.Format(time.RFC3339))
	}
	windows := test.Len() - horizon
	if windows < 1 {
		return Validation{}, &domain.InsufficientDataError{Op: "validate", Have: test.Len(), Need: horizon + 1}
	}

	sys := m.fit.sys
	a := slices.Clone(m.fit.filter.nextA)
	p := slices.Clone(m.fit.filter.nextP)
	ahead := make([]float64, sys.n)
	pz := make([]float64, sys.n)

	var absSum, sqSum float64
	for i := 0; i < windows; i++ {
		copy(ahead, a)
		for h := 0; h < horizon; h++ {
			e := test.Values[i+h] - sys.observe(ahead)
			absSum += math.Abs(e)
			sqSum += e * e
			sys.transition(ahead)
		}

		if _, _, err := sys.update(a, p, pz, test.Values[i]); err != nil {
			return Validation{}, fmt.Errorf("%w: %w", domain.ErrModelFit, err)
		}
		sys.transition(a)
		sys.propagate(p)
	}

	n := float64(windows * horizon)
	return Validation{
		MAE:     absSum / n,
		RMSE:    math.Sqrt(sqSum / n),
		Windows: windows,
		Horizon: horizon,
	}, nil
}
