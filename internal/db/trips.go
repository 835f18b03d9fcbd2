package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/geo"
	"corridor-tracker/internal/trip"
)

// TripStore persists trip documents in the trips table.
type TripStore struct {
	db *sql.DB
}

func NewTripStore(db *sql.DB) *TripStore { return &TripStore{db: db} }

func (s *TripStore) Save(ctx context.Context, t trip.Trip) error {
	loc, err := nullableJSON(t.LastLocation)
	if err != nil {
		return err
	}
	prog, err := nullableJSON(t.Progress)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO trips (id, vehicle_ref, corridor_key, direction, status, last_location, last_speed, last_heading, progress, eta, eta_seconds, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  last_location = EXCLUDED.last_location,
  last_speed = EXCLUDED.last_speed,
  last_heading = EXCLUDED.last_heading,
  progress = EXCLUDED.progress,
  eta = EXCLUDED.eta,
  eta_seconds = EXCLUDED.eta_seconds,
  updated_at = EXCLUDED.updated_at`,
		t.ID, t.VehicleRef, t.CorridorKey, string(t.Direction), string(t.Status),
		loc, t.LastSpeed, t.LastHeading, prog, t.ETA, t.EtaSeconds, t.StartedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert trip %s: %w", t.ID, err)
	}
	return nil
}

func (s *TripStore) LoadActive(ctx context.Context) ([]trip.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, vehicle_ref, corridor_key, direction, status, last_location, last_speed, last_heading,
       progress, eta, eta_seconds, started_at, updated_at
FROM trips WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("query active trips: %w", err)
	}
	defer rows.Close()

	var out []trip.Trip
	for rows.Next() {
		var (
			t              trip.Trip
			dir, status    string
			loc, prog      []byte
			speed, heading sql.NullFloat64
			eta            sql.NullTime
			etaSecs        sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.VehicleRef, &t.CorridorKey, &dir, &status, &loc, &speed, &heading,
			&prog, &eta, &etaSecs, &t.StartedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Direction = corridor.Direction(dir)
		t.Status = trip.Status(status)
		if len(loc) > 0 {
			var p geo.Point
			if err := json.Unmarshal(loc, &p); err != nil {
				return nil, fmt.Errorf("trip %s location: %w", t.ID, err)
			}
			t.LastLocation = &p
		}
		if len(prog) > 0 {
			var p corridor.Progress
			if err := json.Unmarshal(prog, &p); err != nil {
				return nil, fmt.Errorf("trip %s progress: %w", t.ID, err)
			}
			t.Progress = &p
		}
		if speed.Valid {
			t.LastSpeed = &speed.Float64
		}
		if heading.Valid {
			t.LastHeading = &heading.Float64
		}
		if eta.Valid {
			t.ETA = &eta.Time
		}
		if etaSecs.Valid {
			t.EtaSeconds = &etaSecs.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
