package config

import (
	"fmt"
	"os"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// stationsFile is the on-disk layout of a station network:
//
//	stations:
//	  - id: Yafo
//	    group: reference
//	  - id: Haifa
//	    offset: 0.04
type stationsFile struct {
	Stations []stationEntry `yaml:"stations" validate:"required,min=1,dive"`
}

type stationEntry struct {
	ID           string  `yaml:"id" validate:"required"`
	Group        string  `yaml:"group" default:"coastal" validate:"oneof=reference coastal extreme_offset"`
	Offset       float64 `yaml:"offset"`
	Tolerance    float64 `yaml:"tolerance" validate:"gte=0,lte=1"`
	Asynchronous bool    `yaml:"asynchronous"`
}

// LoadStations builds the station registry. An empty path selects the
// built-in network; otherwise the YAML file at path is read, defaulted and
// validated. A zero tolerance takes the group default.
func LoadStations(path string) (*domain.Registry, error) {
	if path == "" {
		return domain.NewRegistry(domain.DefaultProfiles())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}
	return ParseStations(data)
}

// ParseStations decodes a YAML station network.
func ParseStations(data []byte) (*domain.Registry, error) {
	var file stationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode stations file: %w", err)
	}
	for i := range file.Stations {
		if err := defaults.Set(&file.Stations[i]); err != nil {
			return nil, fmt.Errorf("station defaults: %w", err)
		}
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid stations file: %w", err)
	}

	profiles := make([]domain.StationProfile, 0, len(file.Stations))
	for _, s := range file.Stations {
		profiles = append(profiles, domain.StationProfile{
			ID:           s.ID,
			Group:        domain.StationGroup(s.Group),
			Offset:       s.Offset,
			Tolerance:    s.Tolerance,
			Asynchronous: s.Asynchronous,
		})
	}
	return domain.NewRegistry(profiles)
}
