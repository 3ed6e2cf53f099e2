package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "readings and qc results",
		SQL: `
CREATE TABLE IF NOT EXISTS readings (
    station_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    value REAL NOT NULL,
    PRIMARY KEY (station_id, observed_at)
);

CREATE TABLE IF NOT EXISTS qc_results (
    station_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    actual_value REAL NOT NULL,
    expected_value REAL NOT NULL,
    baseline_used REAL NOT NULL,
    baseline_method TEXT NOT NULL DEFAULT '',
    deviation REAL NOT NULL,
    is_outlier INTEGER NOT NULL,
    excluded_from_baseline INTEGER NOT NULL,
    tolerance_used REAL NOT NULL,
    asynchronous INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (station_id, observed_at)
);
`,
	},
	{
		Version:     2,
		Description: "time indexes",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_readings_observed_at ON readings(observed_at);
CREATE INDEX IF NOT EXISTS idx_qc_results_outliers ON qc_results(station_id, is_outlier);
`,
	},
}

// Migrate applies pending schema migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at INTEGER
		)
	`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	var versions []int
	if err := s.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback() //nolint:errcheck // the exec error is reported
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, domain.Now().Unix(),
		); err != nil {
			tx.Rollback() //nolint:errcheck // the exec error is reported
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// MigrationVersion returns the highest applied schema version.
func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	return version, err
}
