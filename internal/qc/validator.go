package qc

import (
	"math"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// DefaultValidationThreshold is the maximum distance in meters between two
// reference readings for them to count as agreeing.
const DefaultValidationThreshold = 0.05

// Validator cross-checks reference stations against each other.
type Validator struct {
	registry  *domain.Registry
	threshold float64
}

// NewValidator returns a validator using threshold meters as the agreement
// distance. A non-positive threshold selects DefaultValidationThreshold.
func NewValidator(registry *domain.Registry, threshold float64) *Validator {
	if threshold <= 0 {
		threshold = DefaultValidationThreshold
	}
	return &Validator{registry: registry, threshold: threshold}
}

// Threshold returns the agreement distance in meters.
func (v *Validator) Threshold() float64 { return v.threshold }

// Validate decides which reference readings at one timestamp may contribute
// to the baseline. Readings from non-reference stations are ignored, as is
// the station named by exclude.
//
// A candidate is kept when it lies within the threshold of at least
// max(1, n/2) other candidates. With one or zero candidates there is nothing
// to compare against and the input is returned as-is.
func (v *Validator) Validate(readings map[string]float64, exclude string) domain.ValidationOutcome {
	var (
		stations []string
		values   []float64
	)
	for _, id := range v.registry.ReferenceStations() {
		if id == exclude {
			continue
		}
		if val, ok := readings[id]; ok {
			stations = append(stations, id)
			values = append(values, val)
		}
	}

	out := domain.ValidationOutcome{
		ValidStations: []string{},
		ValidValues:   []float64{},
		Excluded:      []string{},
	}
	if len(stations) <= 1 {
		out.ValidStations = append(out.ValidStations, stations...)
		out.ValidValues = append(out.ValidValues, values...)
		return out
	}

	required := max(1, len(stations)/2)
	for i, id := range stations {
		agreements := 0
		for j := range stations {
			if i != j && math.Abs(values[i]-values[j]) <= v.threshold {
				agreements++
			}
		}
		if agreements >= required {
			out.ValidStations = append(out.ValidStations, id)
			out.ValidValues = append(out.ValidValues, values[i])
		} else {
			out.Excluded = append(out.Excluded, id)
		}
	}
	return out
}
