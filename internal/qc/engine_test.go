package qc

import (
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC)

// --- tests ---

func TestProcessFlagsCoastalOutlier(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())

	res := e.Process([]domain.Reading{
		reading("Yafo", 0, 0.320),
		reading("Ashdod", 0, 0.318),
		reading("Ashkelon", 0, 0.380),
		reading("Haifa", 0, 0.663),
		reading("Acre", 0, 0.400),
	}, nil)

	require.NoError(t, res.Err())
	require.Len(t, res.Baselines, 1)
	assert.InDelta(t, 0.319, res.Baselines[0].Baseline.Value, 1e-9)
	assert.Equal(t, domain.MethodMean, res.Baselines[0].Baseline.Method)

	byStation := recordsByStation(res.Records)
	require.Len(t, byStation, 5)

	haifa := byStation["Haifa"]
	assert.InDelta(t, 0.359, haifa.ExpectedValue, 1e-9)
	assert.InDelta(t, 0.304, haifa.Deviation, 1e-9)
	assert.True(t, haifa.IsOutlier)
	assert.False(t, haifa.ExcludedFromBaseline)

	acre := byStation["Acre"]
	assert.InDelta(t, 0.399, acre.ExpectedValue, 1e-9)
	assert.False(t, acre.IsOutlier)

	ashkelon := byStation["Ashkelon"]
	assert.True(t, ashkelon.ExcludedFromBaseline)
	assert.True(t, ashkelon.IsOutlier)

	assert.False(t, byStation["Yafo"].IsOutlier)
	assert.False(t, byStation["Ashdod"].IsOutlier)
}

func TestProcessRecordInvariants(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())
	var readings []domain.Reading
	for h := range 48 {
		tide := 0.3 + 0.1*float64(h%12)/12
		readings = append(readings,
			reading("Yafo", h, tide),
			reading("Ashdod", h, tide-0.002),
			reading("Haifa", h, tide+0.04+0.01*float64(h%5)),
			reading("Eilat", h, tide+0.28+0.02*float64(h%7)),
		)
		if h%6 == 0 {
			readings = append(readings, reading("Ashkelon", h, tide+0.15))
		}
	}

	checkInvariants(t, e, e.Process(readings, nil).Records)

	t.Run("excluded reading equal to historical baseline", func(t *testing.T) {
		// Both references disagree and the fallback baseline equals Yafo's
		// reading exactly, leaving Yafo excluded at zero deviation.
		history := []domain.Reading{reading("Yafo", 0, 0.5), reading("Ashdod", 0, 0.5)}
		current := []domain.Reading{reading("Yafo", 1, 0.5), reading("Ashdod", 1, 0.7)}

		res := e.Process(current, history)
		require.Len(t, res.Records, 2)
		checkInvariants(t, e, res.Records)

		yafo := res.Records[0]
		require.Equal(t, "Yafo", yafo.StationID)
		assert.Equal(t, domain.MethodHistorical, yafo.BaselineMethod)
		assert.InDelta(t, 0.5, yafo.BaselineUsed, 1e-12)
		assert.Zero(t, yafo.Deviation)
		assert.True(t, yafo.ExcludedFromBaseline)
		assert.True(t, yafo.IsOutlier)
	})
}

func TestProcessSingleStationFallsBackToHistory(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())

	t.Run("no history keeps under-supported current baseline", func(t *testing.T) {
		// A lone reference reading gives a one-source mean, which is below the
		// minimum support, so history is consulted before it is used.
		current := ComputeBaseline(NewValidator(e.Registry(), 0).Validate(map[string]float64{"Yafo": 0.320}, ""))
		require.True(t, current.Valid)
		assert.Less(t, current.SourceCount, DefaultMinSources)

		_, ok := e.fallback.HistoricalBaseline(nil, at(0))
		assert.False(t, ok)

		res := e.Process([]domain.Reading{reading("Yafo", 0, 0.320), reading("Haifa", 0, 0.36)}, nil)
		require.Len(t, res.Baselines, 1)
		assert.Equal(t, 1, res.Baselines[0].Baseline.SourceCount)
		assert.Equal(t, domain.MethodMean, res.Baselines[0].Baseline.Method)
	})

	t.Run("71 hours of two-station history", func(t *testing.T) {
		var history []domain.Reading
		for h := range 71 {
			history = append(history, reading("Yafo", h, 0.320), reading("Ashdod", h, 0.318))
		}

		res := e.Process([]domain.Reading{reading("Yafo", 71, 0.320), reading("Haifa", 71, 0.36)}, history)

		require.Len(t, res.Baselines, 1)
		b := res.Baselines[0].Baseline
		require.True(t, b.Valid)
		assert.Equal(t, domain.MethodHistorical, b.Method)
		assert.GreaterOrEqual(t, b.SourceCount, 2)
		assert.InDelta(t, 0.319, b.Value, 1e-9)

		haifa := recordsByStation(res.Records)["Haifa"]
		assert.Equal(t, domain.MethodHistorical, haifa.BaselineMethod)
		assert.False(t, haifa.IsOutlier)
	})
}

func TestProcessNoBaseline(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())

	res := e.Process([]domain.Reading{reading("Haifa", 0, 0.36), reading("Eilat", 0, 0.6)}, nil)

	assert.Empty(t, res.Records)
	assert.Equal(t, []time.Time{at(0)}, res.Unresolved)
}

func TestProcessUnknownStation(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())

	res := e.Process([]domain.Reading{
		reading("Yafo", 0, 0.320),
		reading("Ashdod", 0, 0.318),
		reading("Nahariya", 0, 0.4),
		reading("Nahariya", 1, 0.4),
		reading("Yafo", 1, 0.320),
		reading("Ashdod", 1, 0.318),
	}, nil)

	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Err(), domain.ErrUnknownStation))
	assert.Len(t, res.Records, 4)
}

func TestProcessOrdering(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())

	res := e.Process([]domain.Reading{
		reading("Haifa", 1, 0.36),
		reading("Ashdod", 1, 0.318),
		reading("Yafo", 1, 0.320),
		reading("Ashdod", 0, 0.318),
		reading("Yafo", 0, 0.320),
	}, nil)

	var got []string
	for _, r := range res.Records {
		got = append(got, r.StationID+"@"+r.Timestamp.Format("15"))
	}
	assert.Equal(t, []string{"Yafo@00", "Ashdod@00", "Yafo@01", "Ashdod@01", "Haifa@01"}, got)
}

func TestStats(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())

	e.Process([]domain.Reading{
		reading("Yafo", 0, 0.320), reading("Ashdod", 0, 0.318), reading("Ashkelon", 0, 0.380),
		reading("Yafo", 1, 0.320), reading("Ashdod", 1, 0.318), reading("Haifa", 1, 0.9),
	}, nil)

	s := e.Stats()
	assert.Equal(t, int64(2), s.TotalValidations)
	assert.Equal(t, int64(1), s.TotalExclusions)
	assert.InDelta(t, 50.0, s.ExclusionRate, 1e-9)
	assert.Equal(t, int64(2), s.OutliersDetected)
	assert.Equal(t, int64(2), s.BaselineCalculations)
}

func TestDetectAsynchronousOutliers(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())
	off := func(h int, m int) time.Time { return at(h).Add(time.Duration(m) * time.Minute) }

	readings := []domain.Reading{
		{StationID: "Yafo", Timestamp: at(0), Value: 0.32},
		{StationID: "Yafo", Timestamp: at(1), Value: 0.34},
		{StationID: "Ashdod", Timestamp: at(0), Value: 0.31},
		{StationID: "Ashdod", Timestamp: at(1), Value: 0.33},
		{StationID: "Ashkelon", Timestamp: off(0, 30), Value: 0.33},
		{StationID: "Ashkelon", Timestamp: off(0, 40), Value: 0.45},
		// Only Yafo within an hour: skipped.
		{StationID: "Yafo", Timestamp: at(10), Value: 0.32},
		{StationID: "Ashkelon", Timestamp: off(10, 15), Value: 0.9},
	}

	recs := e.DetectAsynchronousOutliers(readings)
	require.Len(t, recs, 2)

	// Local baseline is mean(mean(0.32,0.34), mean(0.31,0.33)) = 0.325.
	assert.InDelta(t, 0.325, recs[0].BaselineUsed, 1e-9)
	assert.False(t, recs[0].IsOutlier)
	assert.True(t, recs[0].Asynchronous)
	assert.InDelta(t, DefaultValidationThreshold, recs[0].ToleranceUsed, 1e-12)

	assert.True(t, recs[1].IsOutlier)
	assert.True(t, recs[1].ExcludedFromBaseline)
	assert.InDelta(t, 0.125, recs[1].Deviation, 1e-9)
}

func TestMergeAsync(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())
	synced := []domain.OutlierRecord{
		{StationID: "Yafo", Timestamp: at(1)},
		{StationID: "Ashkelon", Timestamp: at(1), BaselineUsed: 0.3},
	}
	async := []domain.OutlierRecord{
		{StationID: "Ashkelon", Timestamp: at(1), BaselineUsed: 0.5, Asynchronous: true},
		{StationID: "Ashkelon", Timestamp: at(0).Add(30 * time.Minute), Asynchronous: true},
	}

	merged := e.MergeAsync(synced, async)

	require.Len(t, merged, 3)
	assert.Equal(t, at(0).Add(30*time.Minute), merged[0].Timestamp)
	assert.Equal(t, "Yafo", merged[1].StationID)
	assert.False(t, merged[2].Asynchronous)
	assert.InDelta(t, 0.3, merged[2].BaselineUsed, 1e-12)
}

func TestProcessNetworkRoutesOffClockReadings(t *testing.T) {
	e := NewEngine(domain.MustDefaultRegistry())
	offClock := at(0).Add(30 * time.Minute)

	res := e.ProcessNetwork([]domain.Reading{
		reading("Yafo", 0, 0.320),
		reading("Ashdod", 0, 0.318),
		reading("Ashkelon", 0, 0.322),
		{StationID: "Ashkelon", Timestamp: offClock, Value: 0.45},
		reading("Yafo", 1, 0.330),
		reading("Ashdod", 1, 0.320),
	}, nil)

	require.NoError(t, res.Err())
	assert.Len(t, res.Baselines, 2, "the off-clock reading gets no synchronized baseline")

	var async []domain.OutlierRecord
	for _, r := range res.Records {
		if r.Asynchronous {
			async = append(async, r)
		}
	}
	require.Len(t, async, 1)
	assert.Equal(t, offClock, async[0].Timestamp)
	assert.True(t, async[0].IsOutlier)

	// At 00:00 Ashkelon shares the timestamp, so the synchronized record stands.
	for _, r := range res.Records {
		if r.StationID == "Ashkelon" && r.Timestamp.Equal(at(0)) {
			assert.False(t, r.Asynchronous)
		}
	}
	assert.Len(t, res.Records, 6)
}

// --- helpers ---

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func reading(station string, h int, v float64) domain.Reading {
	return domain.Reading{StationID: station, Timestamp: at(h), Value: v}
}

func recordsByStation(recs []domain.OutlierRecord) map[string]domain.OutlierRecord {
	m := make(map[string]domain.OutlierRecord, len(recs))
	for _, r := range recs {
		m[r.StationID] = r
	}
	return m
}

func checkInvariants(t *testing.T, e *Engine, records []domain.OutlierRecord) {
	t.Helper()
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.InDelta(t, abs(r.ActualValue-r.ExpectedValue), r.Deviation, 1e-12)
		assert.Equal(t, r.Deviation > r.ToleranceUsed, r.IsOutlier, "%s at %s", r.StationID, r.Timestamp)
		if r.ExcludedFromBaseline {
			assert.True(t, r.IsOutlier)
			tol, err := e.Tolerance(r.StationID)
			require.NoError(t, err)
			assert.LessOrEqual(t, r.ToleranceUsed, tol)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
