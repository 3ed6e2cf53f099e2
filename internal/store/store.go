// Package store persists readings and QC verdicts in SQLite.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store is the reading store backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// One connection serializes writers and keeps an in-memory database shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN parameters.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type readingRow struct {
	StationID  string  `db:"station_id"`
	ObservedAt int64   `db:"observed_at"`
	Value      float64 `db:"value"`
}

func (r readingRow) reading() domain.Reading {
	return domain.Reading{StationID: r.StationID, Timestamp: time.Unix(r.ObservedAt, 0).UTC(), Value: r.Value}
}

type qcRow struct {
	StationID            string  `db:"station_id"`
	ObservedAt           int64   `db:"observed_at"`
	ActualValue          float64 `db:"actual_value"`
	ExpectedValue        float64 `db:"expected_value"`
	BaselineUsed         float64 `db:"baseline_used"`
	BaselineMethod       string  `db:"baseline_method"`
	Deviation            float64 `db:"deviation"`
	IsOutlier            bool    `db:"is_outlier"`
	ExcludedFromBaseline bool    `db:"excluded_from_baseline"`
	ToleranceUsed        float64 `db:"tolerance_used"`
	Asynchronous         bool    `db:"asynchronous"`
}

func toQCRow(r domain.OutlierRecord) qcRow {
	return qcRow{
		StationID:            r.StationID,
		ObservedAt:           r.Timestamp.Unix(),
		ActualValue:          r.ActualValue,
		ExpectedValue:        r.ExpectedValue,
		BaselineUsed:         r.BaselineUsed,
		BaselineMethod:       string(r.BaselineMethod),
		Deviation:            r.Deviation,
		IsOutlier:            r.IsOutlier,
		ExcludedFromBaseline: r.ExcludedFromBaseline,
		ToleranceUsed:        r.ToleranceUsed,
		Asynchronous:         r.Asynchronous,
	}
}

func (r qcRow) record() domain.OutlierRecord {
	return domain.OutlierRecord{
		StationID:            r.StationID,
		Timestamp:            time.Unix(r.ObservedAt, 0).UTC(),
		ActualValue:          r.ActualValue,
		ExpectedValue:        r.ExpectedValue,
		BaselineUsed:         r.BaselineUsed,
		BaselineMethod:       domain.BaselineMethod(r.BaselineMethod),
		Deviation:            r.Deviation,
		IsOutlier:            r.IsOutlier,
		ExcludedFromBaseline: r.ExcludedFromBaseline,
		ToleranceUsed:        r.ToleranceUsed,
		Asynchronous:         r.Asynchronous,
	}
}

const upsertReading = `
	INSERT INTO readings (station_id, observed_at, value)
	VALUES (:station_id, :observed_at, :value)
	ON CONFLICT(station_id, observed_at) DO UPDATE SET value = excluded.value`

const upsertQCResult = `
	INSERT INTO qc_results (station_id, observed_at, actual_value, expected_value, baseline_used,
		baseline_method, deviation, is_outlier, excluded_from_baseline, tolerance_used, asynchronous)
	VALUES (:station_id, :observed_at, :actual_value, :expected_value, :baseline_used,
		:baseline_method, :deviation, :is_outlier, :excluded_from_baseline, :tolerance_used, :asynchronous)
	ON CONFLICT(station_id, observed_at) DO UPDATE SET
		actual_value = excluded.actual_value,
		expected_value = excluded.expected_value,
		baseline_used = excluded.baseline_used,
		baseline_method = excluded.baseline_method,
		deviation = excluded.deviation,
		is_outlier = excluded.is_outlier,
		excluded_from_baseline = excluded.excluded_from_baseline,
		tolerance_used = excluded.tolerance_used,
		asynchronous = excluded.asynchronous`

// InsertReadings upserts readings in one transaction. A reading that repeats
// (station, timestamp) replaces the stored value.
func (s *Store) InsertReadings(ctx context.Context, readings []domain.Reading) error {
	rows := make([]any, len(readings))
	for i, r := range readings {
		rows[i] = readingRow{StationID: r.StationID, ObservedAt: r.Timestamp.Unix(), Value: r.Value}
	}
	return s.execNamed(ctx, "insert readings", upsertReading, rows)
}

// SaveOutlierRecords upserts QC verdicts in one transaction.
func (s *Store) SaveOutlierRecords(ctx context.Context, records []domain.OutlierRecord) error {
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = toQCRow(r)
	}
	return s.execNamed(ctx, "save qc results", upsertQCResult, rows)
}

func (s *Store) execNamed(ctx context.Context, op, query string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		tx.Rollback() //nolint:errcheck // the prepare error is reported
		return fmt.Errorf("%s: prepare: %w", op, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			tx.Rollback() //nolint:errcheck // the exec error is reported
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// Readings returns a station's readings in [from, to), oldest first.
func (s *Store) Readings(ctx context.Context, station string, from, to time.Time) ([]domain.Reading, error) {
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT station_id, observed_at, value FROM readings
		WHERE station_id = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at`, station, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query readings for %s: %w", station, err)
	}
	return toReadings(rows), nil
}

// History returns readings of the given stations in [from, to), ordered by
// time then station.
func (s *Store) History(ctx context.Context, stations []string, from, to time.Time) ([]domain.Reading, error) {
	if len(stations) == 0 {
		return []domain.Reading{}, nil
	}
	query, args, err := sqlx.In(`
		SELECT station_id, observed_at, value FROM readings
		WHERE station_id IN (?) AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at, station_id`, stations, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []readingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return toReadings(rows), nil
}

// CleanReadings returns a station's readings in [from, to) that QC has not
// flagged as outliers. Readings with no verdict yet are included.
func (s *Store) CleanReadings(ctx context.Context, station string, from, to time.Time) ([]domain.Reading, error) {
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.station_id, r.observed_at, r.value FROM readings r
		LEFT JOIN qc_results q ON q.station_id = r.station_id AND q.observed_at = r.observed_at
		WHERE r.station_id = ? AND r.observed_at >= ? AND r.observed_at < ?
		  AND COALESCE(q.is_outlier, 0) = 0
		ORDER BY r.observed_at`, station, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query clean readings for %s: %w", station, err)
	}
	return toReadings(rows), nil
}

// OutlierRecords returns stored verdicts in [from, to) for every station,
// ordered by time then station.
func (s *Store) OutlierRecords(ctx context.Context, from, to time.Time) ([]domain.OutlierRecord, error) {
	var rows []qcRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT station_id, observed_at, actual_value, expected_value, baseline_used, baseline_method,
		       deviation, is_outlier, excluded_from_baseline, tolerance_used, asynchronous
		FROM qc_results
		WHERE observed_at >= ? AND observed_at < ?
		ORDER BY observed_at, station_id`, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query qc results: %w", err)
	}
	out := make([]domain.OutlierRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// Stations returns the ids of every station with at least one reading.
func (s *Store) Stations(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT DISTINCT station_id FROM readings ORDER BY station_id"); err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	return ids, nil
}

func toReadings(rows []readingRow) []domain.Reading {
	out := make([]domain.Reading, len(rows))
	for i, r := range rows {
		out[i] = r.reading()
	}
	return out
}
