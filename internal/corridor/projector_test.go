package corridor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"corridor-tracker/internal/geo"
)

func TestProjectHalfwayAlongFirstSegment(t *testing.T) {
	c := threeDegree(t)

	fwd := Project(geo.Point{Lon: 0, Lat: 0.5}, c, Forward)
	assert.InDelta(t, 55500, fwd.Meters, 1)
	assert.InDelta(t, 25, fwd.Percent, 0.01)

	rev := Project(geo.Point{Lon: 0, Lat: 0.5}, c, Reverse)
	assert.InDelta(t, 166500, rev.Meters, 1)
	assert.InDelta(t, 75, rev.Percent, 0.01)
}

func TestProjectPointsOnSegments(t *testing.T) {
	c := threeDegree(t)
	tests := []struct {
		name   string
		p      geo.Point
		meters float64
	}{
		{"start", geo.Point{Lon: 0, Lat: 0}, 0},
		{"vertex", geo.Point{Lon: 0, Lat: 1}, 111000},
		{"quarter of second segment", geo.Point{Lon: 0, Lat: 1.25}, 111000 + 27750},
		{"end", geo.Point{Lon: 0, Lat: 2}, 222000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(tt.p, c, Forward)
			assert.InDelta(t, tt.meters, got.Meters, 1)
			assert.InDelta(t, tt.meters/c.LengthMeters*100, got.Percent, 0.01)
		})
	}
}

func TestProjectDirectionSymmetry(t *testing.T) {
	c := threeDegree(t)
	for _, p := range []geo.Point{{Lon: 0, Lat: 0.1}, {Lon: 0.01, Lat: 0.77}, {Lon: -0.02, Lat: 1.5}, {Lon: 0, Lat: 1.99}} {
		fwd := Project(p, c, Forward)
		rev := Project(p, c, Reverse)
		assert.InDelta(t, 100, fwd.Percent+rev.Percent, 0.02)
		assert.InDelta(t, c.LengthMeters, fwd.Meters+rev.Meters, 1e-6)
	}
}

func TestProjectClampsOffCorridorFixes(t *testing.T) {
	c := threeDegree(t)

	before := Project(geo.Point{Lon: 0, Lat: -3}, c, Forward)
	assert.Equal(t, 0.0, before.Meters)
	assert.Equal(t, 0.0, before.Percent)

	after := Project(geo.Point{Lon: 0, Lat: 9}, c, Forward)
	assert.Equal(t, c.LengthMeters, after.Meters)
	assert.Equal(t, 100.0, after.Percent)

	// far to the side still resolves to the nearest segment
	side := Project(geo.Point{Lon: 5, Lat: 1.5}, c, Forward)
	assert.InDelta(t, 166500, side.Meters, 500)
}

func TestProjectZeroLengthCorridor(t *testing.T) {
	c := &Corridor{
		Key:                 "flat",
		Geometry:            []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}},
		CumulativeDistances: []float64{0, 0},
	}
	got := Project(geo.Point{Lon: 0, Lat: 0.5}, c, Forward)
	assert.Equal(t, Progress{}, got)
}

func TestProjectNear(t *testing.T) {
	// A corridor that doubles back: the far leg passes right next to the start.
	c, err := New("loop", "", []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 0.001, Lat: 1}, {Lon: 0.001, Lat: 0}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := geo.Point{Lon: 0.0004, Lat: 0.1}

	full := Project(p, c, Forward)
	assert.Less(t, full.Meters, c.CumulativeDistances[1], "full scan picks the outbound leg")

	near := ProjectNear(p, c, Forward, c.LengthMeters-10000, 2000)
	assert.Greater(t, near.Meters, c.CumulativeDistances[2], "windowed scan stays on the return leg")

	// window that overlaps nothing falls back to the full scan
	fallback := ProjectNear(p, c, Forward, c.LengthMeters*10, 1)
	assert.Equal(t, full, fallback)

	// zero window is a full scan
	assert.Equal(t, full, ProjectNear(p, c, Forward, 0, 0))

	// reverse hints are journey meters
	rev := ProjectNear(p, c, Reverse, 10000, 2000)
	assert.InDelta(t, c.LengthMeters-near.Meters, rev.Meters, 1e-6)
}

func TestProjectNearFallsBackForFixesBeyondTheWindow(t *testing.T) {
	c := threeDegree(t)
	tests := []struct {
		name string
		p    geo.Point
		hint float64
	}{
		{"jump ahead along the corridor", geo.Point{Lon: 0, Lat: 1.5}, 0},
		{"jump back along the corridor", geo.Point{Lon: 0, Lat: 0.2}, 200000},
		{"fix on the previous segment", geo.Point{Lon: 0, Lat: 0.9}, 150000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, dir := range []Direction{Forward, Reverse} {
				hint := tt.hint
				if dir == Reverse {
					hint = c.LengthMeters - hint
				}
				assert.Equal(t, Project(tt.p, c, dir), ProjectNear(tt.p, c, dir, hint, 2000))
			}
		})
	}
}

func TestProjectNearFallsBackWhenFarOffTheWindowedLeg(t *testing.T) {
	c, err := New("loop", "", []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 0.001, Lat: 1}, {Lon: 0.001, Lat: 0}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// about 1.1km west of the outbound leg, further still from the return leg
	p := geo.Point{Lon: -0.01, Lat: 0.1}
	got := ProjectNear(p, c, Forward, c.LengthMeters-10000, 2000)
	assert.Equal(t, Project(p, c, Forward), got)
	assert.Less(t, got.Meters, c.CumulativeDistances[1])
}
