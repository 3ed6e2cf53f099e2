// Package dataset reads and writes gauge readings as CSV and generates
// synthetic station networks for demos and offline analysis.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

// Column names of the gauge export format.
const (
	ColumnTime    = "Tab_DateTime"
	ColumnStation = "Station"
	ColumnValue   = "Tab_Value_mDepthC1"
)

var aliases = map[string][]string{
	ColumnTime:    {"tab_datetime", "timestamp", "time", "ds"},
	ColumnStation: {"station", "station_id"},
	ColumnValue:   {"tab_value_mdepthc1", "value", "sea_level"},
}

// ReadCSV parses readings from r. The header must name a time, a station and
// a value column in any order; lowercase aliases such as "timestamp",
// "station" and "value" are accepted. Rows with an empty value are skipped.
func ReadCSV(r io.Reader) ([]domain.Reading, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("read csv: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var out []domain.Reading
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		raw := strings.TrimSpace(row[idx[ColumnValue]])
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: value %q: %w", line, raw, err)
		}
		ts, err := domain.ParseTimestamp(row[idx[ColumnTime]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		station := strings.TrimSpace(row[idx[ColumnStation]])
		if station == "" {
			return nil, fmt.Errorf("csv line %d: missing station", line)
		}
		out = append(out, domain.Reading{StationID: station, Timestamp: ts, Value: value})
	}
	return out, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(aliases))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for col, names := range aliases {
			if slices.Contains(names, name) {
				idx[col] = i
			}
		}
	}
	for _, col := range []string{ColumnTime, ColumnStation, ColumnValue} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("read csv: missing %s column", col)
		}
	}
	return idx, nil
}

// WriteCSV writes readings in the gauge export format.
func WriteCSV(w io.Writer, readings []domain.Reading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnTime, ColumnStation, ColumnValue}); err != nil {
		return err
	}
	for _, r := range readings {
		if err := cw.Write([]string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.StationID,
			strconv.FormatFloat(r.Value, 'f', 4, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
