package corridor

import (
	"math"

	"corridor-tracker/internal/geo"
)

// NearToleranceMeters is the largest off-corridor distance ProjectNear accepts
// from its windowed scan before rescanning the whole corridor.
const NearToleranceMeters = 250.0

// Progress is the direction-aware position of a vehicle along a corridor.
// Meters counts the journey completed, not the polyline index order.
type Progress struct {
	Meters  float64 `json:"meters"`
	Percent float64 `json:"percent"`
}

// Project returns the nearest-point progress of p on c by scanning every segment.
// Off-corridor fixes still resolve to the nearest segment; outlier policy is the
// caller's concern.
func Project(p geo.Point, c *Corridor, dir Direction) Progress {
	m, _ := nearestMeters(p, c, 0, len(c.Geometry)-1, math.Inf(-1), math.Inf(1))
	return finish(m, c, dir)
}

// ProjectNear restricts the scan to segments overlapping [hint-window, hint+window]
// polyline meters. It falls back to a full scan when no segment qualifies, when
// the nearest windowed point lies outside the window, or when it is further than
// NearToleranceMeters from p, so a vehicle reappearing far from its last
// position still resolves to the global nearest point. hint is in journey
// meters for dir, as returned by a previous Project call.
func ProjectNear(p geo.Point, c *Corridor, dir Direction, hint, window float64) Progress {
	if window <= 0 {
		return Project(p, c, dir)
	}
	if dir == Reverse {
		hint = c.LengthMeters - hint
	}
	lo, hi := hint-window, hint+window
	m, dist := nearestMeters(p, c, 0, len(c.Geometry)-1, lo, hi)
	if math.IsNaN(m) || m < lo || m > hi || dist > NearToleranceMeters {
		return Project(p, c, dir)
	}
	return finish(m, c, dir)
}

// nearestMeters scans segments [from,to) whose meter range overlaps [lo,hi] and
// returns the polyline meters of the nearest point and its distance from p. along
// is NaN if no segment overlapped.
func nearestMeters(p geo.Point, c *Corridor, from, to int, lo, hi float64) (along, dist float64) {
	plane := geo.NewPlane(p)
	cum := c.CumulativeDistances
	dist = math.Inf(1)
	along = math.NaN()
	for i := from; i < to; i++ {
		if cum[i+1] < lo || cum[i] > hi {
			continue
		}
		d, t := plane.SegmentProjection(c.Geometry[i], c.Geometry[i+1])
		if d < dist {
			dist = d
			along = cum[i] + t*(cum[i+1]-cum[i])
		}
	}
	return along, dist
}

func finish(meters float64, c *Corridor, dir Direction) Progress {
	length := c.LengthMeters
	meters = math.Min(math.Max(meters, 0), length)
	if dir == Reverse {
		meters = length - meters
	}
	percent := 0.0
	if length > 0 {
		percent = math.Round(meters/length*100*100) / 100
	}
	return Progress{Meters: meters, Percent: percent}
}
