package forecast

import (
	"errors"
	"math"
)

// diffuseVariance approximates an uninformative prior on every state.
const diffuseVariance = 1e6

var errDegenerateFilter = errors.New("kalman filter: non-positive innovation variance")

// layout maps model components to state indices. Absent components are -1.
type layout struct {
	n        int
	level    int
	trend    int
	seasonal []seasonalSlot
}

type seasonalSlot struct {
	period    float64
	harmonics int
	start     int
}

func newLayout(s Spec) layout {
	l := layout{level: -1, trend: -1}
	if s.Level {
		l.level = l.n
		l.n++
	}
	if s.Trend {
		l.trend = l.n
		l.n++
	}
	for _, c := range s.Seasonal {
		l.seasonal = append(l.seasonal, seasonalSlot{period: c.Period, harmonics: c.Harmonics, start: l.n})
		l.n += 2 * c.Harmonics
	}
	return l
}

// Params are the disturbance variances of the model.
type Params struct {
	Irregular float64   `json:"sigma2_irregular"`
	Level     float64   `json:"sigma2_level,omitempty"`
	Trend     float64   `json:"sigma2_trend,omitempty"`
	Seasonal  []float64 `json:"sigma2_seasonal,omitempty"`
}

// block is a 1x1 or 2x2 diagonal block of the transition matrix.
type block struct {
	at                 int
	size               int
	t00, t01, t10, t11 float64
}

// system is the time-invariant state-space form of a layout with fixed
// variances. The transition is block diagonal.
type system struct {
	n      int
	blocks []block
	z      []float64
	q      []float64
	h      float64
}

func newSystem(l layout, p Params) *system {
	s := &system{n: l.n, z: make([]float64, l.n), q: make([]float64, l.n), h: p.Irregular}
	switch {
	case l.level >= 0 && l.trend >= 0:
		s.blocks = append(s.blocks, block{at: l.level, size: 2, t00: 1, t01: 1, t10: 0, t11: 1})
	case l.level >= 0:
		s.blocks = append(s.blocks, block{at: l.level, size: 1, t00: 1})
	}
	if l.level >= 0 {
		s.z[l.level] = 1
		s.q[l.level] = p.Level
	}
	if l.trend >= 0 {
		s.q[l.trend] = p.Trend
	}
	for k, slot := range l.seasonal {
		for j := 1; j <= slot.harmonics; j++ {
			lambda := 2 * math.Pi * float64(j) / slot.period
			c, sn := math.Cos(lambda), math.Sin(lambda)
			at := slot.start + 2*(j-1)
			s.blocks = append(s.blocks, block{at: at, size: 2, t00: c, t01: sn, t10: -sn, t11: c})
			s.z[at] = 1
			s.q[at] = p.Seasonal[k]
			s.q[at+1] = p.Seasonal[k]
		}
	}
	return s
}

// transition computes T·a in place.
func (s *system) transition(a []float64) {
	for _, b := range s.blocks {
		if b.size == 1 {
			a[b.at] *= b.t00
			continue
		}
		x, y := a[b.at], a[b.at+1]
		a[b.at] = b.t00*x + b.t01*y
		a[b.at+1] = b.t10*x + b.t11*y
	}
}

// transposed computes T'·r in place.
func (s *system) transposed(r []float64) {
	for _, b := range s.blocks {
		if b.size == 1 {
			r[b.at] *= b.t00
			continue
		}
		x, y := r[b.at], r[b.at+1]
		r[b.at] = b.t00*x + b.t10*y
		r[b.at+1] = b.t01*x + b.t11*y
	}
}

// propagate computes T·P·T' + Q in place on a row-major n×n matrix.
func (s *system) propagate(p []float64) {
	n := s.n
	for _, b := range s.blocks {
		i := b.at
		if b.size == 1 {
			for j := 0; j < n; j++ {
				p[i*n+j] *= b.t00
				p[j*n+i] *= b.t00
			}
			continue
		}
		for j := 0; j < n; j++ {
			x, y := p[i*n+j], p[(i+1)*n+j]
			p[i*n+j] = b.t00*x + b.t01*y
			p[(i+1)*n+j] = b.t10*x + b.t11*y
		}
		for r := 0; r < n; r++ {
			x, y := p[r*n+i], p[r*n+i+1]
			p[r*n+i] = b.t00*x + b.t01*y
			p[r*n+i+1] = b.t10*x + b.t11*y
		}
	}
	for i := 0; i < n; i++ {
		p[i*n+i] += s.q[i]
	}
}

func (s *system) observe(a []float64) float64 {
	var v float64
	for i, zi := range s.z {
		if zi != 0 {
			v += zi * a[i]
		}
	}
	return v
}

// observeVariance computes z'·P·z.
func (s *system) observeVariance(p []float64) float64 {
	n := s.n
	var v float64
	for i, zi := range s.z {
		if zi == 0 {
			continue
		}
		for j, zj := range s.z {
			if zj != 0 {
				v += zi * p[i*n+j] * zj
			}
		}
	}
	return v
}

// filterOutput holds the Kalman filter pass over a series. The per-step
// predicted moments are kept only when requested for smoothing.
type filterOutput struct {
	loglik float64
	v      []float64
	f      []float64
	predA  [][]float64
	predP  [][]float64
	// filtA and filtP are the filtered moments at the last observation.
	filtA []float64
	filtP []float64
	// nextA and nextP are the one-step-ahead prediction after the last
	// observation.
	nextA []float64
	nextP []float64
}

// initialState returns an approximate diffuse prior with the level started
// at the first observation.
func (s *system) initialState(l layout, y0 float64) ([]float64, []float64) {
	a := make([]float64, s.n)
	if l.level >= 0 {
		a[l.level] = y0
	}
	p := make([]float64, s.n*s.n)
	for i := 0; i < s.n; i++ {
		p[i*s.n+i] = diffuseVariance
	}
	return a, p
}

// filter runs the Kalman filter over y from prior (a, p), both of which it
// takes ownership of. Log-likelihood terms for the first burn steps are
// skipped.
func (s *system) filter(y, a, p []float64, burn int, keep bool) (filterOutput, error) {
	n := s.n
	out := filterOutput{v: make([]float64, len(y)), f: make([]float64, len(y))}
	if keep {
		out.predA = make([][]float64, len(y))
		out.predP = make([][]float64, len(y))
	}
	pz := make([]float64, n)

	for t, yt := range y {
		if keep {
			out.predA[t] = append([]float64(nil), a...)
			out.predP[t] = append([]float64(nil), p...)
		}

		v, f, err := s.update(a, p, pz, yt)
		if err != nil {
			return filterOutput{}, err
		}
		out.v[t], out.f[t] = v, f
		if t >= burn {
			out.loglik -= 0.5 * (math.Log(2*math.Pi) + math.Log(f) + v*v/f)
		}

		if t == len(y)-1 {
			out.filtA = append([]float64(nil), a...)
			out.filtP = append([]float64(nil), p...)
		}

		s.transition(a)
		s.propagate(p)
	}
	out.nextA, out.nextP = a, p
	return out, nil
}

// update conditions (a, p) on observation y in place and returns the
// innovation and its variance. pz is scratch space of length n.
func (s *system) update(a, p, pz []float64, y float64) (float64, float64, error) {
	n := s.n
	for i := 0; i < n; i++ {
		var sum float64
		for j, zj := range s.z {
			if zj != 0 {
				sum += p[i*n+j] * zj
			}
		}
		pz[i] = sum
	}
	v := y - s.observe(a)
	f := s.h
	for i, zi := range s.z {
		if zi != 0 {
			f += zi * pz[i]
		}
	}
	if !(f > 0) || math.IsInf(f, 0) {
		return 0, 0, errDegenerateFilter
	}

	for i := 0; i < n; i++ {
		a[i] += pz[i] * v / f
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			val := p[i*n+j] - pz[i]*pz[j]/f
			if j != i {
				val = 0.5 * (val + p[j*n+i] - pz[j]*pz[i]/f)
			}
			p[i*n+j] = val
			p[j*n+i] = val
		}
	}
	return v, f, nil
}

// smooth runs the fixed-interval state smoother over a kept filter pass and
// returns the smoothed state means.
func (s *system) smooth(fo filterOutput) [][]float64 {
	n := s.n
	steps := len(fo.v)
	out := make([][]float64, steps)
	r := make([]float64, n)
	pz := make([]float64, n)

	for t := steps - 1; t >= 0; t-- {
		p := fo.predP[t]
		for i := 0; i < n; i++ {
			var sum float64
			for j, zj := range s.z {
				if zj != 0 {
					sum += p[i*n+j] * zj
				}
			}
			pz[i] = sum
		}

		// r[t-1] = z v/F + L' r[t] with L' r = T'r - z (pz·T'r)/F
		s.transposed(r)
		var k float64
		for i := 0; i < n; i++ {
			k += pz[i] * r[i]
		}
		for i, zi := range s.z {
			if zi != 0 {
				r[i] += zi * (fo.v[t] - k) / fo.f[t]
			}
		}

		a := append([]float64(nil), fo.predA[t]...)
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < n; j++ {
				sum += p[i*n+j] * r[j]
			}
			a[i] += sum
		}
		out[t] = a
	}
	return out
}
