// Package corridor holds the immutable route geometry every trip is projected
// against, the store that serves it, and the progress projector.
package corridor

import (
	"errors"
	"fmt"

	"corridor-tracker/internal/geo"
)

// SimplifyTolerance is the Douglas-Peucker tolerance (degrees) applied to the
// display line when a corridor document carries none.
const SimplifyTolerance = 0.0005

var (
	ErrNotFound  = errors.New("corridor not found")
	ErrMalformed = errors.New("malformed corridor")
)

type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Forward, Reverse:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// Corridor is read-only once built by New. Geometry and CumulativeDistances are
// parallel slices; callers must not mutate them.
type Corridor struct {
	Key                 string
	Name                string
	Geometry            []geo.Point
	Simplified          []geo.Point
	CumulativeDistances []float64
	LengthMeters        float64
	// DefaultSpeedKmph is the corridor-class average used by ETA when the
	// reported speed is unusable. Zero means the estimator default.
	DefaultSpeedKmph float64
}

// New validates and normalises a corridor document. cumulative may be nil, in
// which case it is computed from the geometry.
func New(key, name string, geometry, simplified []geo.Point, cumulative []float64) (*Corridor, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if cumulative != nil && len(cumulative) != len(geometry) {
		return nil, fmt.Errorf("%w: %s: %d cumulative distances for %d points", ErrMalformed, key, len(cumulative), len(geometry))
	}
	for i, p := range geometry {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: point %d: %v", ErrMalformed, key, i, err)
		}
	}

	// Drop zero-length segments so projection never divides by zero.
	pts := make([]geo.Point, 0, len(geometry))
	var cum []float64
	if cumulative != nil {
		cum = make([]float64, 0, len(cumulative))
	}
	for i, p := range geometry {
		if i > 0 && p == geometry[i-1] {
			continue
		}
		pts = append(pts, p)
		if cumulative != nil {
			cum = append(cum, cumulative[i])
		}
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("%w: %s: need at least 2 distinct points", ErrMalformed, key)
	}

	if cum == nil {
		cum = geo.CumulativeDistances(pts)
	} else {
		if cum[0] != 0 {
			return nil, fmt.Errorf("%w: %s: cumulative distances must start at 0", ErrMalformed, key)
		}
		for i := 1; i < len(cum); i++ {
			if cum[i] < cum[i-1] {
				return nil, fmt.Errorf("%w: %s: cumulative distances decrease at %d", ErrMalformed, key, i)
			}
		}
	}

	if len(simplified) < 2 {
		simplified = geo.Simplify(pts, SimplifyTolerance)
	}
	if name == "" {
		name = key
	}
	return &Corridor{
		Key:                 key,
		Name:                name,
		Geometry:            pts,
		Simplified:          simplified,
		CumulativeDistances: cum,
		LengthMeters:        cum[len(cum)-1],
	}, nil
}

// Start and End are the corridor endpoints in polyline order.
func (c *Corridor) Start() geo.Point { return c.Geometry[0] }
func (c *Corridor) End() geo.Point   { return c.Geometry[len(c.Geometry)-1] }
