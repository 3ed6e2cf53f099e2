package domain

import (
	"fmt"
	"slices"
)

// StationGroup classifies a gauge by its relationship to the reference level.
type StationGroup string

const (
	GroupReference     StationGroup = "reference"
	GroupCoastal       StationGroup = "coastal"
	GroupExtremeOffset StationGroup = "extreme_offset"
)

// Per-group outlier tolerances in meters.
const (
	ReferenceTolerance     = 0.03
	CoastalTolerance       = 0.05
	ExtremeOffsetTolerance = 0.06
)

// DefaultTolerance returns the fixed tolerance for a group, or 0 if the group
// is unknown.
func (g StationGroup) DefaultTolerance() float64 {
	switch g {
	case GroupReference:
		return ReferenceTolerance
	case GroupCoastal:
		return CoastalTolerance
	case GroupExtremeOffset:
		return ExtremeOffsetTolerance
	default:
		return 0
	}
}

// StationProfile carries the constants QC needs for one gauge.
type StationProfile struct {
	ID           string       `json:"id"`
	Group        StationGroup `json:"group"`
	Offset       float64      `json:"offset_from_baseline"`
	Tolerance    float64      `json:"outlier_tolerance"`
	Asynchronous bool         `json:"asynchronous,omitempty"`
}

// IsReference reports whether the station contributes to the baseline.
func (p StationProfile) IsReference() bool {
	return p.Group == GroupReference
}

// DefaultProfiles returns the built-in station network.
func DefaultProfiles() []StationProfile {
	return []StationProfile{
		{ID: "Yafo", Group: GroupReference, Offset: 0, Tolerance: ReferenceTolerance},
		{ID: "Ashdod", Group: GroupReference, Offset: 0, Tolerance: ReferenceTolerance},
		{ID: "Ashkelon", Group: GroupReference, Offset: 0, Tolerance: ReferenceTolerance, Asynchronous: true},
		{ID: "Haifa", Group: GroupCoastal, Offset: 0.04, Tolerance: CoastalTolerance},
		{ID: "Acre", Group: GroupCoastal, Offset: 0.08, Tolerance: CoastalTolerance},
		{ID: "Eilat", Group: GroupExtremeOffset, Offset: 0.28, Tolerance: ExtremeOffsetTolerance},
	}
}

// Registry is an immutable, ordered set of station profiles.
type Registry struct {
	profiles map[string]StationProfile
	order    []string
}

// NewRegistry validates profiles and indexes them. Profile order is preserved
// and drives the order of every per-station output.
func NewRegistry(profiles []StationProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]StationProfile, len(profiles))}
	async := 0
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("station profile: empty id")
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("station profile %q: duplicate id", p.ID)
		}
		if p.Group.DefaultTolerance() == 0 {
			return nil, fmt.Errorf("station profile %q: unknown group %q", p.ID, p.Group)
		}
		if p.Tolerance <= 0 {
			p.Tolerance = p.Group.DefaultTolerance()
		}
		if p.Asynchronous {
			if !p.IsReference() {
				return nil, fmt.Errorf("station profile %q: only reference stations may be asynchronous", p.ID)
			}
			async++
		}
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	if async > 1 {
		return nil, fmt.Errorf("station profiles: at most one asynchronous station, got %d", async)
	}
	return r, nil
}

// MustDefaultRegistry returns the registry of DefaultProfiles.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultProfiles())
	if err != nil {
		panic(err)
	}
	return r
}

// Profile looks up a station.
func (r *Registry) Profile(id string) (StationProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return StationProfile{}, &MissingStationProfileError{StationID: id}
	}
	return p, nil
}

// Stations returns every station id in registry order.
func (r *Registry) Stations() []string {
	return slices.Clone(r.order)
}

// ReferenceStations returns reference station ids in registry order.
func (r *Registry) ReferenceStations() []string {
	var ids []string
	for _, id := range r.order {
		if r.profiles[id].IsReference() {
			ids = append(ids, id)
		}
	}
	return ids
}

// AsynchronousStation returns the station flagged as reporting off-clock.
func (r *Registry) AsynchronousStation() (string, bool) {
	for _, id := range r.order {
		if r.profiles[id].Asynchronous {
			return id, true
		}
	}
	return "", false
}

// Rank returns the station's position in registry order, or -1 if unknown.
func (r *Registry) Rank(id string) int {
	return slices.Index(r.order, id)
}
