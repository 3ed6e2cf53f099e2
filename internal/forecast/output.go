package forecast

import "time"

// Record is one entry of the forecast JSON feed. Nowcast entries carry Type
// and Uncertainty instead of bounds.
type Record struct {
	DS          string   `json:"ds"`
	YHat        float64  `json:"yhat"`
	YHatLower   *float64 `json:"yhat_lower,omitempty"`
	YHatUpper   *float64 `json:"yhat_upper,omitempty"`
	Type        string   `json:"type,omitempty"`
	Uncertainty *float64 `json:"uncertainty,omitempty"`
}

// Records renders points as feed entries, prefixed by the nowcast when one
// is given. The result is never nil.
func Records(points []Point, nowcast *Nowcast) []Record {
	out := make([]Record, 0, len(points)+1)
	if nowcast != nil {
		u := nowcast.Uncertainty
		out = append(out, Record{
			DS:          nowcast.Timestamp.UTC().Format(time.RFC3339),
			YHat:        nowcast.FilteredValue,
			Type:        "nowcast",
			Uncertainty: &u,
		})
	}
	for _, p := range points {
		lo, hi := p.Lower, p.Upper
		out = append(out, Record{
			DS:        p.Timestamp.UTC().Format(time.RFC3339),
			YHat:      p.Mean,
			YHatLower: &lo,
			YHatUpper: &hi,
		})
	}
	return out
}
