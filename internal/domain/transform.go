package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ParseRawEvent deserializes a RawEvent's value into a Reading. A missing
// timestamp falls back to the message timestamp.
func ParseRawEvent(raw RawEvent) (Reading, error) {
	var rec RawReading
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return Reading{}, fmt.Errorf("parse raw reading: %w", err)
	}

	station := strings.TrimSpace(rec.Station)
	if station == "" {
		return Reading{}, errors.New("parse raw reading: missing station")
	}
	if rec.Value == nil {
		return Reading{}, fmt.Errorf("parse raw reading %s: missing value", station)
	}
	if math.IsNaN(*rec.Value) || math.IsInf(*rec.Value, 0) {
		return Reading{}, fmt.Errorf("parse raw reading %s: non-finite value", station)
	}

	ts, err := parseTimestamp(rec.Timestamp, raw.Timestamp)
	if err != nil {
		return Reading{}, fmt.Errorf("parse raw reading %s: %w", station, err)
	}

	return Reading{StationID: station, Timestamp: ts, Value: *rec.Value}, nil
}

// ParseTimestamp parses a reading timestamp. See parseTimestamp for the
// accepted layouts.
func ParseTimestamp(s string) (time.Time, error) {
	return parseTimestamp(s, time.Time{})
}

// parseTimestamp accepts RFC 3339 and the collector's legacy "2006-01-02 15:04:05"
// form, both interpreted as UTC.
func parseTimestamp(s string, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if fallback.IsZero() {
			return time.Time{}, errors.New("missing timestamp")
		}
		return fallback.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// SerializeRecord converts an OutlierRecord into a sink message keyed by station.
func SerializeRecord(rec OutlierRecord) (OutputEvent, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("marshal outlier record: %w", err)
	}
	return OutputEvent{
		Key:   []byte(rec.StationID),
		Value: value,
		Headers: map[string]string{
			"station":      rec.StationID,
			"is_outlier":   fmt.Sprintf("%t", rec.IsOutlier),
			"processed_at": Now().Format(time.RFC3339),
		},
	}, nil
}
