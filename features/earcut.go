package features

import "github.com/paulmach/orb"

// triangulate ear-clips a polygon (outer ring plus holes) into triangle
// indices over the flattened vertex list: the outer ring's vertices first,
// then each hole's, closing points dropped.
func triangulate(poly orb.Polygon) (vertices []orb.Point, indices []int) {
	if len(poly) == 0 {
		return nil, nil
	}

	// Normalize windings before bridging: outer counter-clockwise, holes
	// clockwise, so the spliced ring stays simple.
	outer := openRing(poly[0])
	if ringArea(outer) < 0 {
		reversePoints(outer)
	}
	vertices = append(vertices, outer...)

	// Holes are bridged into the outer ring: connect each hole's rightmost
	// vertex to the nearest outer vertex to its right. With no holes the
	// common case stays cheap.
	ring := make([]int, len(outer))
	for i := range ring {
		ring[i] = i
	}
	for _, holeRing := range poly[1:] {
		hole := openRing(holeRing)
		if len(hole) < 3 {
			continue
		}
		if ringArea(hole) > 0 {
			reversePoints(hole)
		}
		base := len(vertices)
		vertices = append(vertices, hole...)
		ring = bridgeHole(vertices, ring, base, len(hole))
	}

	if len(ring) < 3 {
		return vertices, nil
	}

	indices = clipEars(vertices, ring)
	return vertices, indices
}

func ringArea(pts []orb.Point) float64 {
	area := 0.0
	for i := range pts {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		area += a[0]*b[1] - b[0]*a[1]
	}
	return area / 2
}

func reversePoints(pts []orb.Point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}

// openRing drops the repeated closing point.
func openRing(r orb.Ring) []orb.Point {
	pts := []orb.Point(r)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	out := make([]orb.Point, len(pts))
	copy(out, pts)
	return out
}

// bridgeHole splices a hole into the ring via its rightmost vertex and the
// nearest outer vertex to its right.
func bridgeHole(v []orb.Point, ring []int, base, n int) []int {
	// Rightmost hole vertex.
	hi := 0
	for i := 1; i < n; i++ {
		if v[base+i][0] > v[base+hi][0] {
			hi = i
		}
	}
	hp := v[base+hi]

	// Outer vertex closest to the hole vertex among those to its right.
	best := -1
	bestDist := 0.0
	for pos, idx := range ring {
		p := v[idx]
		if p[0] < hp[0] {
			continue
		}
		d := (p[0]-hp[0])*(p[0]-hp[0]) + (p[1]-hp[1])*(p[1]-hp[1])
		if best == -1 || d < bestDist {
			best = pos
			bestDist = d
		}
	}
	if best == -1 {
		best = 0
	}

	// Splice: ...outer[best], hole[hi..], hole[..hi], outer[best]...
	out := make([]int, 0, len(ring)+n+2)
	out = append(out, ring[:best+1]...)
	for i := 0; i <= n; i++ {
		out = append(out, base+(hi+i)%n)
	}
	out = append(out, ring[best])
	out = append(out, ring[best+1:]...)
	return out
}

func clipEars(v []orb.Point, ring []int) []int {
	indices := make([]int, 0, (len(ring)-2)*3)
	work := append([]int(nil), ring...)

	guard := 0
	for len(work) > 3 && guard < len(ring)*len(ring) {
		clipped := false
		for i := 0; i < len(work); i++ {
			prev := work[(i+len(work)-1)%len(work)]
			curr := work[i]
			next := work[(i+1)%len(work)]
			if !isEar(v, work, prev, curr, next) {
				continue
			}
			indices = append(indices, prev, curr, next)
			work = append(work[:i], work[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			// Degenerate input: emit a fan over what remains rather than
			// looping forever.
			for i := 1; i+1 < len(work); i++ {
				indices = append(indices, work[0], work[i], work[i+1])
			}
			return indices
		}
		guard++
	}
	if len(work) == 3 {
		indices = append(indices, work[0], work[1], work[2])
	}
	return indices
}

func isEar(v []orb.Point, work []int, a, b, c int) bool {
	pa, pb, pc := v[a], v[b], v[c]
	// Convex corner (CCW ring).
	if cross2(pa, pb, pc) <= 0 {
		return false
	}
	for _, idx := range work {
		if idx == a || idx == b || idx == c {
			continue
		}
		if pointInTriangle(v[idx], pa, pb, pc) {
			return false
		}
	}
	return true
}

func cross2(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func pointInTriangle(p, a, b, c orb.Point) bool {
	d1 := cross2(p, a, b)
	d2 := cross2(p, b, c)
	d3 := cross2(p, c, a)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}
