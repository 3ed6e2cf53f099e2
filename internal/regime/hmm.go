package regime

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	defaultTrainIterations = 100
	defaultTrainTolerance  = 1e-2
	varianceFloorRatio     = 1e-3
)

// StickyTransitions is the transition matrix used for detection. Row i holds
// the probabilities of moving from state i, with states ordered from calmest
// to most volatile. The diagonal keeps the detector from switching on noise
// and the third state escalates to the fourth more readily than the reverse.
var StickyTransitions = mat.NewDense(Count, Count, []float64{
	0.95, 0.04, 0.01, 0.00,
	0.10, 0.80, 0.09, 0.01,
	0.02, 0.08, 0.70, 0.20,
	0.05, 0.15, 0.10, 0.70,
})

// HMM is a hidden Markov model with diagonal Gaussian emissions.
type HMM struct {
	k, d  int
	start []float64
	trans *mat.Dense
	means [][]float64
	vars  [][]float64
	floor []float64
	// labels maps each state to the regime its volatility falls in.
	labels []Regime
}

// TrainHMM fits a Count-state model to obs with Baum-Welch. States are
// seeded from quantiles of the rolling-variance feature and ordered by their
// mean rolling variance after training. Each state is then labelled with the
// regime of its mean rolling standard deviation (see ForVolatility), so a
// history without surges has no Surge or Storm states and several states may
// share a label.
func TrainHMM(obs [][]float64) (*HMM, error) {
	if len(obs) < 2*Count {
		return nil, &domain.InsufficientDataError{Op: "train regime model", Have: len(obs), Need: 2 * Count}
	}
	h := initHMM(obs, Count)

	prev := math.Inf(-1)
	for iter := 0; iter < defaultTrainIterations; iter++ {
		ll, err := h.step(obs)
		if err != nil {
			return nil, err
		}
		if ll-prev < defaultTrainTolerance {
			break
		}
		prev = ll
	}

	h.orderBy(FeatureRollingVariance)
	h.labels = make([]Regime, h.k)
	for s := range h.labels {
		h.labels[s] = ForVolatility(math.Sqrt(math.Max(0, h.means[s][FeatureRollingVariance])))
	}
	if err := h.SetTransitions(StickyTransitions); err != nil {
		return nil, err
	}
	return h, nil
}

func initHMM(obs [][]float64, k int) *HMM {
	d := len(obs[0])
	h := &HMM{k: k, d: d, start: make([]float64, k), trans: mat.NewDense(k, k, nil)}

	col := make([]float64, len(obs))
	h.floor = make([]float64, d)
	for j := 0; j < d; j++ {
		for t, x := range obs {
			col[t] = x[j]
		}
		h.floor[j] = varianceFloorRatio*stat.PopVariance(col, nil) + 1e-12
	}

	order := make([]int, len(obs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmpFloat(obs[a][FeatureRollingVariance], obs[b][FeatureRollingVariance])
	})

	h.means = make([][]float64, k)
	h.vars = make([][]float64, k)
	for s := 0; s < k; s++ {
		lo, hi := s*len(obs)/k, (s+1)*len(obs)/k
		group := make([][]float64, 0, hi-lo)
		for _, idx := range order[lo:hi] {
			group = append(group, obs[idx])
		}
		h.means[s] = make([]float64, d)
		h.vars[s] = make([]float64, d)
		for j := 0; j < d; j++ {
			vals := make([]float64, len(group))
			for i, x := range group {
				vals[i] = x[j]
			}
			m, v := stat.PopMeanVariance(vals, nil)
			h.means[s][j] = m
			h.vars[s][j] = v + h.floor[j]
		}
		h.start[s] = 1 / float64(k)
		for j := 0; j < k; j++ {
			h.trans.Set(s, j, 1/float64(k))
		}
	}
	return h
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// logEmission returns log p(x | state) for every state.
func (h *HMM) logEmission(x []float64) []float64 {
	out := make([]float64, h.k)
	for s := 0; s < h.k; s++ {
		var lp float64
		for j := 0; j < h.d; j++ {
			lp += distuv.Normal{Mu: h.means[s][j], Sigma: math.Sqrt(h.vars[s][j])}.LogProb(x[j])
		}
		out[s] = lp
	}
	return out
}

func (h *HMM) logEmissions(obs [][]float64) [][]float64 {
	lb := make([][]float64, len(obs))
	for t, x := range obs {
		lb[t] = h.logEmission(x)
	}
	return lb
}

func (h *HMM) logTransitions() [][]float64 {
	out := make([][]float64, h.k)
	for i := range out {
		out[i] = make([]float64, h.k)
		for j := range out[i] {
			out[i][j] = math.Log(h.trans.At(i, j))
		}
	}
	return out
}

var errDegenerate = errors.New("regime model: observations impossible under every state path")

// forward returns log α for every step and the log-likelihood of the
// sequence, starting from the log prior logStart.
func (h *HMM) forward(lb, logA [][]float64, logStart []float64) ([][]float64, float64, error) {
	la := make([][]float64, len(lb))
	terms := make([]float64, h.k)
	for t := range lb {
		la[t] = make([]float64, h.k)
		for j := 0; j < h.k; j++ {
			if t == 0 {
				la[t][j] = logStart[j] + lb[t][j]
				continue
			}
			for i := 0; i < h.k; i++ {
				terms[i] = la[t-1][i] + logA[i][j]
			}
			la[t][j] = lb[t][j] + floats.LogSumExp(terms)
		}
	}
	ll := floats.LogSumExp(la[len(la)-1])
	if math.IsInf(ll, 0) || math.IsNaN(ll) {
		return nil, 0, errDegenerate
	}
	return la, ll, nil
}

func logOf(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = math.Log(v)
	}
	return out
}

// step performs one Baum-Welch update and returns the log-likelihood of the
// parameters before the update.
func (h *HMM) step(obs [][]float64) (float64, error) {
	lb := h.logEmissions(obs)
	logA := h.logTransitions()
	la, ll, err := h.forward(lb, logA, logOf(h.start))
	if err != nil {
		return 0, err
	}
	T := len(obs)

	lbeta := make([][]float64, T)
	lbeta[T-1] = make([]float64, h.k)
	terms := make([]float64, h.k)
	for t := T - 2; t >= 0; t-- {
		lbeta[t] = make([]float64, h.k)
		for i := 0; i < h.k; i++ {
			for j := 0; j < h.k; j++ {
				terms[j] = logA[i][j] + lb[t+1][j] + lbeta[t+1][j]
			}
			lbeta[t][i] = floats.LogSumExp(terms)
		}
	}

	gammaSum := make([]float64, h.k)
	xiSum := mat.NewDense(h.k, h.k, nil)
	meanAcc := make([][]float64, h.k)
	for s := range meanAcc {
		meanAcc[s] = make([]float64, h.d)
	}
	gammas := make([][]float64, T)
	for t := 0; t < T; t++ {
		g := make([]float64, h.k)
		for s := 0; s < h.k; s++ {
			g[s] = math.Exp(la[t][s] + lbeta[t][s] - ll)
		}
		gammas[t] = g
		for s := 0; s < h.k; s++ {
			gammaSum[s] += g[s]
			floats.AddScaled(meanAcc[s], g[s], obs[t])
		}
		if t < T-1 {
			for i := 0; i < h.k; i++ {
				for j := 0; j < h.k; j++ {
					xi := math.Exp(la[t][i] + logA[i][j] + lb[t+1][j] + lbeta[t+1][j] - ll)
					xiSum.Set(i, j, xiSum.At(i, j)+xi)
				}
			}
		}
	}

	if total := floats.Sum(gammas[0]); total > 0 {
		for s := range h.start {
			h.start[s] = gammas[0][s] / total
		}
	}
	for i := 0; i < h.k; i++ {
		row := xiSum.RawRowView(i)
		if total := floats.Sum(row); total > 0 {
			for j := 0; j < h.k; j++ {
				h.trans.Set(i, j, row[j]/total)
			}
		}
	}
	for s := 0; s < h.k; s++ {
		if gammaSum[s] <= 0 {
			continue
		}
		floats.Scale(1/gammaSum[s], meanAcc[s])
		h.means[s] = meanAcc[s]
		for j := 0; j < h.d; j++ {
			var acc float64
			for t := 0; t < T; t++ {
				diff := obs[t][j] - h.means[s][j]
				acc += gammas[t][s] * diff * diff
			}
			h.vars[s][j] = acc/gammaSum[s] + h.floor[j]
		}
	}
	return ll, nil
}

// orderBy permutes states so their mean of feature j increases.
func (h *HMM) orderBy(j int) {
	perm := make([]int, h.k)
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) int { return cmpFloat(h.means[a][j], h.means[b][j]) })

	start := make([]float64, h.k)
	means := make([][]float64, h.k)
	vars := make([][]float64, h.k)
	trans := mat.NewDense(h.k, h.k, nil)
	for ni, oi := range perm {
		start[ni] = h.start[oi]
		means[ni] = h.means[oi]
		vars[ni] = h.vars[oi]
		for nj, oj := range perm {
			trans.Set(ni, nj, h.trans.At(oi, oj))
		}
	}
	h.start, h.means, h.vars, h.trans = start, means, vars, trans
}

// SetTransitions replaces the transition matrix. Every row must be a
// probability distribution.
func (h *HMM) SetTransitions(m mat.Matrix) error {
	r, c := m.Dims()
	if r != h.k || c != h.k {
		return fmt.Errorf("regime model: transition matrix is %dx%d, want %dx%d", r, c, h.k, h.k)
	}
	t := mat.DenseCopyOf(m)
	for i := 0; i < h.k; i++ {
		row := t.RawRowView(i)
		if floats.Min(row) < 0 || math.Abs(floats.Sum(row)-1) > 1e-9 {
			return fmt.Errorf("regime model: transition row %d is not a distribution", i)
		}
	}
	h.trans = t
	return nil
}

// Filter returns the filtered state distribution after the last
// observation. The sequence is assumed to start mid-stream, so the prior is
// uniform rather than the trained initial distribution.
func (h *HMM) Filter(obs [][]float64) ([]float64, error) {
	if len(obs) == 0 {
		return nil, &domain.InsufficientDataError{Op: "detect regime", Have: 0, Need: 1}
	}
	prior := make([]float64, h.k)
	for i := range prior {
		prior[i] = -math.Log(float64(h.k))
	}
	la, _, err := h.forward(h.logEmissions(obs), h.logTransitions(), prior)
	if err != nil {
		return nil, err
	}
	last := la[len(la)-1]
	norm := floats.LogSumExp(last)
	post := make([]float64, h.k)
	for i, v := range last {
		post[i] = math.Exp(v - norm)
	}
	return post, nil
}

// Labels returns the regime of every state, in state order.
func (h *HMM) Labels() []Regime { return slices.Clone(h.labels) }

// Regimes folds a state distribution into a regime distribution.
func (h *HMM) Regimes(post []float64) Probabilities {
	var p Probabilities
	for s, v := range post {
		p[h.labels[s]] += v
	}
	return p
}

// Means returns a copy of the per-state emission means.
func (h *HMM) Means() [][]float64 {
	out := make([][]float64, h.k)
	for s := range out {
		out[s] = slices.Clone(h.means[s])
	}
	return out
}
