package domain

import (
	"context"
	"time"
)

// RawReading is the JSON payload published by the gauge collector.
type RawReading struct {
	Station   string   `json:"station"`
	Timestamp string   `json:"timestamp,omitempty"`
	Value     *float64 `json:"value"`
}

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Reading is a single water-level observation in meters.
type Reading struct {
	StationID string    `json:"station_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ValidationOutcome is the result of cross-checking reference stations at one
// timestamp. ValidStations and ValidValues are index-aligned.
type ValidationOutcome struct {
	ValidStations []string  `json:"valid_reference_stations"`
	ValidValues   []float64 `json:"valid_values"`
	Excluded      []string  `json:"excluded_stations"`
}

// IsExcluded reports whether station failed cross-station validation.
func (o ValidationOutcome) IsExcluded(station string) bool {
	for _, s := range o.Excluded {
		if s == station {
			return true
		}
	}
	return false
}

// BaselineMethod names how a baseline value was derived.
type BaselineMethod string

const (
	MethodMedian     BaselineMethod = "median"
	MethodMean       BaselineMethod = "mean"
	MethodHistorical BaselineMethod = "historical"
)

// BaselineResult is a reference level for one timestamp. Valid is false when
// no baseline could be derived; Value is meaningless in that case.
type BaselineResult struct {
	Value          float64        `json:"value"`
	Valid          bool           `json:"valid"`
	SourceCount    int            `json:"source_count"`
	SourceStations []string       `json:"source_stations,omitempty"`
	Method         BaselineMethod `json:"method,omitempty"`
}

// OutlierRecord is the QC verdict for one (station, timestamp).
type OutlierRecord struct {
	StationID            string         `json:"station_id"`
	Timestamp            time.Time      `json:"timestamp"`
	ActualValue          float64        `json:"actual_value"`
	ExpectedValue        float64        `json:"expected_value"`
	BaselineUsed         float64        `json:"baseline_used"`
	BaselineMethod       BaselineMethod `json:"baseline_method,omitempty"`
	Deviation            float64        `json:"deviation"`
	IsOutlier            bool           `json:"is_outlier"`
	ExcludedFromBaseline bool           `json:"excluded_from_baseline"`
	ToleranceUsed        float64        `json:"tolerance_used"`
	Asynchronous         bool           `json:"asynchronous,omitempty"`
}

// CorrectionSuggestion proposes a replacement value for an outlier.
type CorrectionSuggestion struct {
	StationID           string    `json:"station_id"`
	Timestamp           time.Time `json:"timestamp"`
	ActualValue         float64   `json:"actual_value"`
	Baseline            float64   `json:"baseline"`
	SuggestedCorrection float64   `json:"suggested_correction"`
	Message             string    `json:"message"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
