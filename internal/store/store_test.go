package store

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC)

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	version, err := s.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestInsertAndQueryReadings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReadings(ctx, []domain.Reading{
		{StationID: "Haifa", Timestamp: at(2), Value: 0.36},
		{StationID: "Haifa", Timestamp: at(0), Value: 0.34},
		{StationID: "Haifa", Timestamp: at(1), Value: 0.35},
		{StationID: "Yafo", Timestamp: at(1), Value: 0.31},
	}))

	got, err := s.Readings(ctx, "Haifa", at(0), at(2))
	require.NoError(t, err)
	want := []domain.Reading{
		{StationID: "Haifa", Timestamp: at(0), Value: 0.34},
		{StationID: "Haifa", Timestamp: at(1), Value: 0.35},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Readings mismatch (-want +got):\n%s", diff)
	}

	stations, err := s.Stations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Haifa", "Yafo"}, stations)
}

func TestInsertReadings_ReplacesDuplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReadings(ctx, []domain.Reading{{StationID: "Acre", Timestamp: at(0), Value: 0.40}}))
	require.NoError(t, s.InsertReadings(ctx, []domain.Reading{{StationID: "Acre", Timestamp: at(0), Value: 0.41}}))

	got, err := s.Readings(ctx, "Acre", at(0), at(1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.41, got[0].Value)
}

func TestInsertReadings_Empty(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.InsertReadings(context.Background(), nil))
	assert.NoError(t, s.SaveOutlierRecords(context.Background(), nil))
}

func TestHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReadings(ctx, []domain.Reading{
		{StationID: "Yafo", Timestamp: at(1), Value: 0.31},
		{StationID: "Ashdod", Timestamp: at(1), Value: 0.32},
		{StationID: "Haifa", Timestamp: at(1), Value: 0.36},
		{StationID: "Yafo", Timestamp: at(0), Value: 0.30},
		{StationID: "Yafo", Timestamp: at(5), Value: 0.33},
	}))

	got, err := s.History(ctx, []string{"Yafo", "Ashdod"}, at(0), at(5))
	require.NoError(t, err)
	want := []domain.Reading{
		{StationID: "Yafo", Timestamp: at(0), Value: 0.30},
		{StationID: "Ashdod", Timestamp: at(1), Value: 0.32},
		{StationID: "Yafo", Timestamp: at(1), Value: 0.31},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}

	empty, err := s.History(ctx, nil, at(0), at(5))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaveOutlierRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	records := []domain.OutlierRecord{
		{
			StationID:      "Haifa",
			Timestamp:      at(0),
			ActualValue:    0.50,
			ExpectedValue:  0.359,
			BaselineUsed:   0.319,
			BaselineMethod: domain.MethodMedian,
			Deviation:      0.141,
			IsOutlier:      true,
			ToleranceUsed:  0.05,
		},
		{
			StationID:      "Ashkelon",
			Timestamp:      at(0),
			ActualValue:    0.32,
			ExpectedValue:  0.319,
			BaselineUsed:   0.319,
			BaselineMethod: domain.MethodHistorical,
			Deviation:      0.001,
			ToleranceUsed:  0.05,
			Asynchronous:   true,
		},
	}
	require.NoError(t, s.SaveOutlierRecords(ctx, records))

	records[0].IsOutlier = false
	records[0].Deviation = 0.01
	require.NoError(t, s.SaveOutlierRecords(ctx, records[:1]))

	got, err := s.OutlierRecords(ctx, at(0), at(1))
	require.NoError(t, err)
	want := []domain.OutlierRecord{records[1], records[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OutlierRecords mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanReadings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReadings(ctx, []domain.Reading{
		{StationID: "Haifa", Timestamp: at(0), Value: 0.35},
		{StationID: "Haifa", Timestamp: at(1), Value: 0.80},
		{StationID: "Haifa", Timestamp: at(2), Value: 0.36},
		{StationID: "Haifa", Timestamp: at(3), Value: 0.37},
	}))
	require.NoError(t, s.SaveOutlierRecords(ctx, []domain.OutlierRecord{
		{StationID: "Haifa", Timestamp: at(0), ActualValue: 0.35, IsOutlier: false},
		{StationID: "Haifa", Timestamp: at(1), ActualValue: 0.80, IsOutlier: true},
		{StationID: "Haifa", Timestamp: at(2), ActualValue: 0.36, IsOutlier: false},
	}))

	got, err := s.CleanReadings(ctx, "Haifa", at(0), at(4))
	require.NoError(t, err)

	times := make([]time.Time, len(got))
	for i, r := range got {
		times[i] = r.Timestamp
	}
	assert.Equal(t, []time.Time{at(0), at(2), at(3)}, times, "outlier at hour 1 is dropped, unchecked hour 3 kept")
}

func TestCheckReadiness(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.CheckReadiness(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.CheckReadiness(context.Background()))
}

// --- helpers ---

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(h int) time.Time {
	return t0.Add(time.Duration(h) * time.Hour)
}
