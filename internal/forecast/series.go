package forecast

import (
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"gonum.org/v1/gonum/interp"
)

// Series is a gap-free hourly series starting at Start.
type Series struct {
	Start  time.Time
	Values []float64
}

// Len returns the number of hourly points.
func (s Series) Len() int { return len(s.Values) }

// At returns the timestamp of point i.
func (s Series) At(i int) time.Time { return s.Start.Add(time.Duration(i) * time.Hour) }

// End returns the timestamp of the last point.
func (s Series) End() time.Time { return s.At(len(s.Values) - 1) }

// HourlySeries buckets readings into hours (mean per bucket, labelled by the
// bucket's start) and fills empty hours by linear interpolation. Non-finite
// values are dropped.
func HourlySeries(readings []domain.Reading) (Series, error) {
	buckets := make(map[int64][]float64)
	for _, r := range readings {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}
		h := r.Timestamp.UTC().Truncate(time.Hour).Unix()
		buckets[h] = append(buckets[h], r.Value)
	}
	if len(buckets) == 0 {
		return Series{}, &domain.InsufficientDataError{Op: "resample", Have: 0, Need: 1}
	}

	hours := make([]int64, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	slices.Sort(hours)

	xs := make([]float64, len(hours))
	ys := make([]float64, len(hours))
	for i, h := range hours {
		xs[i] = float64((h - hours[0]) / 3600)
		var sum float64
		for _, v := range buckets[h] {
			sum += v
		}
		ys[i] = sum / float64(len(buckets[h]))
	}

	n := int(xs[len(xs)-1]) + 1
	s := Series{Start: time.Unix(hours[0], 0).UTC(), Values: make([]float64, n)}
	if len(xs) == 1 {
		s.Values[0] = ys[0]
		return s, nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return Series{}, err
	}
	for i := range s.Values {
		s.Values[i] = pl.Predict(float64(i))
	}
	return s, nil
}

// Tail returns the last n points of s, or s itself if it is shorter.
func (s Series) Tail(n int) Series {
	if n >= len(s.Values) {
		return s
	}
	skip := len(s.Values) - n
	return Series{Start: s.At(skip), Values: s.Values[skip:]}
}

// Split returns the first n points of s and the rest.
func (s Series) Split(n int) (Series, Series) {
	n = max(0, min(n, len(s.Values)))
	return Series{Start: s.Start, Values: s.Values[:n]}, Series{Start: s.At(n), Values: s.Values[n:]}
}
