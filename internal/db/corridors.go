package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/geo"
)

// CorridorSource serves corridor documents from the corridors table.
type CorridorSource struct {
	db *sql.DB
}

func NewCorridorSource(db *sql.DB) *CorridorSource { return &CorridorSource{db: db} }

const corridorColumns = `key, name, geometry, simplified, cumulative_distances, default_speed_kmph`

func (s *CorridorSource) Fetch(ctx context.Context, key string) (*corridor.Corridor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+corridorColumns+` FROM corridors WHERE key = $1`, key)
	c, err := scanCorridor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corridor.ErrNotFound
	}
	return c, err
}

func (s *CorridorSource) FetchAll(ctx context.Context) ([]*corridor.Corridor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+corridorColumns+` FROM corridors ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query corridors: %w", err)
	}
	defer rows.Close()
	var out []*corridor.Corridor
	for rows.Next() {
		c, err := scanCorridor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCorridor(sc scanner) (*corridor.Corridor, error) {
	var (
		d                      corridor.Document
		geom, simplified, cumu []byte
	)
	if err := sc.Scan(&d.Key, &d.Name, &geom, &simplified, &cumu, &d.DefaultSpeedKmph); err != nil {
		return nil, err
	}
	if err := decodeCorridorJSON(&d, geom, simplified, cumu); err != nil {
		return nil, err
	}
	return d.Build()
}

func decodeCorridorJSON(d *corridor.Document, geom, simplified, cumu []byte) error {
	if err := json.Unmarshal(geom, &d.Geometry); err != nil {
		return fmt.Errorf("corridor %s geometry: %w", d.Key, err)
	}
	if len(simplified) > 0 {
		if err := json.Unmarshal(simplified, &d.Simplified); err != nil {
			return fmt.Errorf("corridor %s simplified: %w", d.Key, err)
		}
	}
	if err := json.Unmarshal(cumu, &d.CumulativeDistances); err != nil {
		return fmt.Errorf("corridor %s cumulative distances: %w", d.Key, err)
	}
	return nil
}

// UpsertCorridor writes c keyed by c.Key, replacing any previous version.
func UpsertCorridor(ctx context.Context, db *sql.DB, c *corridor.Corridor) error {
	geom, err := json.Marshal(c.Geometry)
	if err != nil {
		return err
	}
	simplified, err := json.Marshal(c.Simplified)
	if err != nil {
		return err
	}
	cumu, err := json.Marshal(c.CumulativeDistances)
	if err != nil {
		return err
	}
	start, end := pointJSON(c.Start()), pointJSON(c.End())
	_, err = db.ExecContext(ctx, `
INSERT INTO corridors (key, name, geometry, simplified, cumulative_distances, length_meters, start_point, end_point, default_speed_kmph, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (key) DO UPDATE SET
  name = EXCLUDED.name,
  geometry = EXCLUDED.geometry,
  simplified = EXCLUDED.simplified,
  cumulative_distances = EXCLUDED.cumulative_distances,
  length_meters = EXCLUDED.length_meters,
  start_point = EXCLUDED.start_point,
  end_point = EXCLUDED.end_point,
  default_speed_kmph = EXCLUDED.default_speed_kmph,
  updated_at = now()`,
		c.Key, c.Name, geom, simplified, cumu, c.LengthMeters, start, end, c.DefaultSpeedKmph)
	if err != nil {
		return fmt.Errorf("upsert corridor %s: %w", c.Key, err)
	}
	return nil
}

func pointJSON(p geo.Point) []byte {
	b, _ := json.Marshal(p)
	return b
}
