package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := MustDefaultRegistry()

	assert.Equal(t, []string{"Yafo", "Ashdod", "Ashkelon", "Haifa", "Acre", "Eilat"}, r.Stations())
	assert.Equal(t, []string{"Yafo", "Ashdod", "Ashkelon"}, r.ReferenceStations())

	async, ok := r.AsynchronousStation()
	require.True(t, ok)
	assert.Equal(t, "Ashkelon", async)

	eilat, err := r.Profile("Eilat")
	require.NoError(t, err)
	assert.InDelta(t, 0.28, eilat.Offset, 1e-12)
	assert.InDelta(t, ExtremeOffsetTolerance, eilat.Tolerance, 1e-12)
	assert.False(t, eilat.IsReference())
}

func TestRegistryUnknownStation(t *testing.T) {
	_, err := MustDefaultRegistry().Profile("Nahariya")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStation))
	var mspe *MissingStationProfileError
	require.True(t, errors.As(err, &mspe))
	assert.Equal(t, "Nahariya", mspe.StationID)
}

func TestNewRegistry(t *testing.T) {
	t.Run("tolerance defaults from group", func(t *testing.T) {
		r, err := NewRegistry([]StationProfile{{ID: "Haifa", Group: GroupCoastal, Offset: 0.04}})
		require.NoError(t, err)
		p, _ := r.Profile("Haifa")
		assert.InDelta(t, CoastalTolerance, p.Tolerance, 1e-12)
	})

	tests := []struct {
		name     string
		profiles []StationProfile
	}{
		{"empty id", []StationProfile{{Group: GroupReference}}},
		{"duplicate id", []StationProfile{{ID: "Yafo", Group: GroupReference}, {ID: "Yafo", Group: GroupReference}}},
		{"unknown group", []StationProfile{{ID: "Yafo", Group: "inland"}}},
		{"async coastal station", []StationProfile{{ID: "Haifa", Group: GroupCoastal, Asynchronous: true}}},
		{"two async stations", []StationProfile{
			{ID: "A", Group: GroupReference, Asynchronous: true},
			{ID: "B", Group: GroupReference, Asynchronous: true},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.profiles)
			assert.Error(t, err)
		})
	}
}
