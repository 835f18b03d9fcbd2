package geo

// Simplify reduces pts with Douglas-Peucker. tolerance is in degrees, matching
// the units the corridor files are drawn in. Endpoints are always kept.
func Simplify(pts []Point, tolerance float64) []Point {
	if len(pts) <= 2 || tolerance <= 0 {
		out := make([]Point, len(pts))
		copy(out, pts)
		return out
	}
	keep := make([]bool, len(pts))
	keep[0], keep[len(pts)-1] = true, true
	sqTol := tolerance * tolerance

	type span struct{ first, last int }
	stack := []span{{0, len(pts) - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		maxSq := 0.0
		idx := -1
		for i := s.first + 1; i < s.last; i++ {
			if d := sqSegDist(pts[i], pts[s.first], pts[s.last]); d > maxSq {
				maxSq = d
				idx = i
			}
		}
		if idx >= 0 && maxSq > sqTol {
			keep[idx] = true
			stack = append(stack, span{s.first, idx}, span{idx, s.last})
		}
	}

	out := make([]Point, 0, len(pts))
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

// squared planar distance from p to segment a-b, in degrees²
func sqSegDist(p, a, b Point) float64 {
	x, y := a.Lon, a.Lat
	dx := b.Lon - x
	dy := b.Lat - y
	if dx != 0 || dy != 0 {
		t := ((p.Lon-x)*dx + (p.Lat-y)*dy) / (dx*dx + dy*dy)
		if t > 1 {
			x, y = b.Lon, b.Lat
		} else if t > 0 {
			x += dx * t
			y += dy * t
		}
	}
	dx = p.Lon - x
	dy = p.Lat - y
	return dx*dx + dy*dy
}
