package qc

import (
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoricalBaseline(t *testing.T) {
	p := NewHistoricalProvider(domain.MustDefaultRegistry(), 0, 0)

	t.Run("recency weighted", func(t *testing.T) {
		history := []domain.Reading{
			reading("Yafo", 8, 0.30),
			reading("Yafo", 9, 0.32),
			reading("Ashdod", 7, 0.40),
			reading("Haifa", 9, 5.0),
		}

		got, ok := p.HistoricalBaseline(history, at(10))
		require.True(t, ok)

		wYafo, wAshdod := math.Exp(-1), math.Exp(-3)
		want := (wYafo*0.32 + wAshdod*0.40) / (wYafo + wAshdod)
		assert.InDelta(t, want, got.Value, 1e-12)
		assert.Equal(t, []string{"Yafo", "Ashdod"}, got.SourceStations)
		assert.Equal(t, domain.MethodHistorical, got.Method)
	})

	t.Run("window excludes current and stale readings", func(t *testing.T) {
		history := []domain.Reading{
			reading("Yafo", 10, 0.32),
			reading("Ashdod", 10, 0.31),
			{StationID: "Ashdod", Timestamp: at(10).Add(-73 * time.Hour), Value: 0.31},
		}

		_, ok := p.HistoricalBaseline(history, at(10))
		assert.False(t, ok)
	})

	t.Run("lookback boundary is inclusive", func(t *testing.T) {
		history := []domain.Reading{
			{StationID: "Yafo", Timestamp: at(0).Add(-72 * time.Hour), Value: 0.32},
			{StationID: "Ashdod", Timestamp: at(0).Add(-time.Hour), Value: 0.31},
		}

		got, ok := p.HistoricalBaseline(history, at(0))
		require.True(t, ok)
		assert.Equal(t, 2, got.SourceCount)
	})
}

func TestEnhance(t *testing.T) {
	p := NewHistoricalProvider(domain.MustDefaultRegistry(), 0, 0)
	history := []domain.Reading{reading("Yafo", 0, 0.30), reading("Ashdod", 0, 0.30)}
	supported := domain.BaselineResult{Value: 0.5, Valid: true, SourceCount: 2, Method: domain.MethodMean}
	weak := domain.BaselineResult{Value: 0.5, Valid: true, SourceCount: 1, Method: domain.MethodMean}

	assert.Equal(t, supported, p.Enhance(supported, history, at(1)))

	got := p.Enhance(weak, history, at(1))
	assert.Equal(t, domain.MethodHistorical, got.Method)
	assert.InDelta(t, 0.30, got.Value, 1e-12)

	assert.Equal(t, weak, p.Enhance(weak, nil, at(1)))
	assert.False(t, p.Enhance(domain.BaselineResult{}, nil, at(1)).Valid)
}
