package geo

import (
	"errors"
	"math"
)

const earthRadiusMeters = 6371000.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a WGS84 position in GeoJSON order.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Validate rejects NaN/Inf and out-of-range values.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) || math.IsInf(p.Lon, 0) || math.IsInf(p.Lat, 0) {
		return ErrInvalidCoordinate
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Haversine distance in meters
func Haversine(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Bearing returns the initial bearing from a to b in degrees [0,360).
func Bearing(a, b Point) float64 {
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// CumulativeDistances returns the running haversine length of pts, starting at 0.
func CumulativeDistances(pts []Point) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(pts[i-1], pts[i])
		cum[i] = sum
	}
	return cum
}

// Plane is a local equirectangular frame centred on an origin. Distances
// computed in it are in meters and accurate for corridor-scale offsets.
type Plane struct {
	origin Point
	cosLat float64
}

func NewPlane(origin Point) Plane {
	return Plane{origin: origin, cosLat: math.Cos(toRad(origin.Lat))}
}

// XY maps p into the plane.
func (pl Plane) XY(p Point) (x, y float64) {
	y = toRad(p.Lat-pl.origin.Lat) * earthRadiusMeters
	x = toRad(p.Lon-pl.origin.Lon) * earthRadiusMeters * pl.cosLat
	return
}

// SegmentProjection projects the plane origin onto segment a-b and returns the
// perpendicular distance in meters and the clamped fraction t along the segment.
func (pl Plane) SegmentProjection(a, b Point) (dist, t float64) {
	x0, y0 := pl.XY(a)
	x1, y1 := pl.XY(b)
	dx := x1 - x0
	dy := y1 - y0
	segLen2 := dx*dx + dy*dy
	if segLen2 > 0 {
		t = -(x0*dx + y0*dy) / segLen2
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	px := x0 + t*dx
	py := y0 + t*dy
	return math.Sqrt(px*px + py*py), t
}
