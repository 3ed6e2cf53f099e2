package regime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegimeConfig(t *testing.T) {
	thresholds := map[Regime]float64{Calm: 0.1, Moderate: 0.3, Surge: 0.5, Storm: 1.0}
	for r, want := range thresholds {
		assert.InDelta(t, want, r.Config().SurgeThreshold, 1e-12, r.String())
	}

	assert.Equal(t, "Storm", Storm.String())
	assert.Equal(t, "Regime(7)", Regime(7).String())
	assert.False(t, Moderate.IsSurge())
	assert.True(t, Surge.IsSurge())
	assert.True(t, Storm.IsSurge())
}

func TestForVolatility(t *testing.T) {
	tests := []struct {
		std  float64
		want Regime
	}{
		{0, Calm},
		{0.1, Calm},
		{0.15, Moderate},
		{0.3, Moderate},
		{0.45, Surge},
		{0.5, Surge},
		{0.8, Storm},
		{3, Storm},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ForVolatility(tt.std), "std %g", tt.std)
	}
}

func TestRegimeJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		R Regime `json:"r"`
	}{Surge})
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":"Surge"}`, string(data))

	var r Regime
	require.NoError(t, r.UnmarshalText([]byte("Moderate")))
	assert.Equal(t, Moderate, r)
	assert.Error(t, r.UnmarshalText([]byte("Tsunami")))

	_, err = json.Marshal(Regime(-1))
	assert.Error(t, err)
}

func TestProbabilities(t *testing.T) {
	p, err := Probabilities{1, 1, 2, 0}.Normalize()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5, 0}, p[:], 1e-12)
	assert.Equal(t, Surge, p.Dominant())
	assert.InDelta(t, 0.5, p.SurgeProbability(), 1e-12)

	assert.Equal(t, Calm, Probabilities{0.5, 0.5, 0, 0}.Dominant())
	assert.Equal(t, Probabilities{0, 0, 0, 1}, Certain(Storm))

	_, err = Probabilities{}.Normalize()
	assert.Error(t, err)
	_, err = Probabilities{-1, 2, 0, 0}.Normalize()
	assert.Error(t, err)
}

func TestExtractFeatures(t *testing.T) {
	rows := ExtractFeatures([]float64{1, 2, 4, 7}, 3)
	require.Len(t, rows, 4)

	assert.Equal(t, []float64{0, 0, 0, 0}, rows[0])
	assert.Equal(t, []float64{1, 0, 0, 0}, rows[1])
	assert.InDeltaSlice(t, []float64{2, 7.0 / 3, 5.0 / 3, 1}, rows[2], 1e-12)
	assert.InDeltaSlice(t, []float64{3, 19.0 / 3, 8.0 / 3, 1}, rows[3], 1e-12)
}
