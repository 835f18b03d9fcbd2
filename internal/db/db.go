package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS corridors (
  key                  TEXT PRIMARY KEY,
  name                 TEXT NOT NULL,
  geometry             JSONB NOT NULL,
  simplified           JSONB,
  cumulative_distances JSONB NOT NULL,
  length_meters        DOUBLE PRECISION NOT NULL,
  start_point          JSONB,
  end_point            JSONB,
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS trips (
  id            TEXT PRIMARY KEY,
  vehicle_ref   TEXT NOT NULL,
  corridor_key  TEXT NOT NULL,
  direction     TEXT NOT NULL,
  status        TEXT NOT NULL,
  last_location JSONB,
  last_speed    DOUBLE PRECISION,
  last_heading  DOUBLE PRECISION,
  progress      JSONB,
  eta           TIMESTAMPTZ,
  eta_seconds   BIGINT,
  started_at    TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trips_active_idx ON trips (corridor_key, direction) WHERE status = 'active';
`

// EnsureSchema creates the corridor and trip tables if they do not exist and
// adds columns introduced after the first release.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	cols, err := hasColumns(ctx, db, "public", "corridors", "default_speed_kmph")
	if err != nil {
		return fmt.Errorf("introspect corridors columns: %w", err)
	}
	if !cols["default_speed_kmph"] {
		if _, err := db.ExecContext(ctx, `ALTER TABLE corridors ADD COLUMN default_speed_kmph DOUBLE PRECISION NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add default_speed_kmph: %w", err)
		}
	}
	return nil
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
