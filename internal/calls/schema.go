package calls

import (
	"context"
	"database/sql"
	"fmt"

	"openphone-relay/pkg/utils"
)

type column struct {
	name string
	ddl  map[string]string
}

// Columns added after the first deployment. Existing tables gain them on boot.
var additiveColumns = []column{
	{name: "originating_number", ddl: map[string]string{
		utils.DriverPostgres: "TEXT",
		utils.DriverSQLite:   "TEXT",
	}},
	{name: "was_answered", ddl: map[string]string{
		utils.DriverPostgres: "BOOLEAN NOT NULL DEFAULT FALSE",
		utils.DriverSQLite:   "BOOLEAN NOT NULL DEFAULT 0",
	}},
	{name: "recording_url", ddl: map[string]string{
		utils.DriverPostgres: "TEXT",
		utils.DriverSQLite:   "TEXT",
	}},
	{name: "tenant_id", ddl: map[string]string{
		utils.DriverPostgres: "TEXT",
		utils.DriverSQLite:   "TEXT",
	}},
}

var createTable = map[string]string{
	utils.DriverPostgres: `
CREATE TABLE IF NOT EXISTS calls (
  call_id     TEXT PRIMARY KEY,
  contact_id  TEXT NOT NULL,
  credential  TEXT NOT NULL,
  call_time   TIMESTAMPTZ NOT NULL,
  duration    INTEGER NOT NULL DEFAULT 0
)`,
	utils.DriverSQLite: `
CREATE TABLE IF NOT EXISTS calls (
  call_id     TEXT PRIMARY KEY,
  contact_id  TEXT NOT NULL,
  credential  TEXT NOT NULL,
  call_time   TIMESTAMP NOT NULL,
  duration    INTEGER NOT NULL DEFAULT 0
)`,
}

const createTimeIndex = `CREATE INDEX IF NOT EXISTS calls_call_time_idx ON calls (call_time)`

// EnsureSchema creates the calls table and adds any missing columns.
// It is safe to run on every boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl, ok := createTable[s.driver]
	if !ok {
		return fmt.Errorf("ensure schema: unsupported driver %q", s.driver)
	}
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create calls table: %w", err)
		}
		for _, col := range additiveColumns {
			exists, err := s.columnExists(ctx, tx, "calls", col.name)
			if err != nil {
				return fmt.Errorf("check column %s: %w", col.name, err)
			}
			if exists {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE calls ADD COLUMN %s %s", col.name, col.ddl[s.driver])
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("add column %s: %w", col.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, createTimeIndex); err != nil {
			return fmt.Errorf("create call_time index: %w", err)
		}
		return nil
	})
}

func (s *Store) columnExists(ctx context.Context, tx *sql.Tx, table, name string) (bool, error) {
	var q string
	switch s.driver {
	case utils.DriverPostgres:
		q = `
SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?
`
	default:
		q = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	}
	var n int
	if err := tx.QueryRowContext(ctx, s.rebind(q), table, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
