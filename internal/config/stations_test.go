package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStations_DefaultNetwork(t *testing.T) {
	reg, err := LoadStations("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Yafo", "Ashdod", "Ashkelon", "Haifa", "Acre", "Eilat"}, reg.Stations())
}

func TestLoadStations_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stations:
  - id: Yafo
    group: reference
  - id: Ashdod
    group: reference
    asynchronous: true
  - id: Haifa
    offset: 0.04
  - id: Eilat
    group: extreme_offset
    offset: 0.28
    tolerance: 0.07
`), 0o600))

	reg, err := LoadStations(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Yafo", "Ashdod", "Haifa", "Eilat"}, reg.Stations())

	haifa, err := reg.Profile("Haifa")
	require.NoError(t, err)
	assert.Equal(t, domain.GroupCoastal, haifa.Group, "group defaults to coastal")
	assert.Equal(t, domain.CoastalTolerance, haifa.Tolerance)
	assert.Equal(t, 0.04, haifa.Offset)

	eilat, err := reg.Profile("Eilat")
	require.NoError(t, err)
	assert.Equal(t, 0.07, eilat.Tolerance)

	async, ok := reg.AsynchronousStation()
	assert.True(t, ok)
	assert.Equal(t, "Ashdod", async)
}

func TestLoadStations_MissingFile(t *testing.T) {
	_, err := LoadStations(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read stations file")
}

func TestParseStations_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "stations: [\n"},
		{"empty", "stations: []\n"},
		{"missing id", "stations:\n  - group: reference\n"},
		{"unknown group", "stations:\n  - id: Yafo\n    group: inland\n"},
		{"negative tolerance", "stations:\n  - id: Yafo\n    tolerance: -0.01\n"},
		{"duplicate id", "stations:\n  - id: Yafo\n  - id: Yafo\n"},
		{"async coastal", "stations:\n  - id: Haifa\n    asynchronous: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStations([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
