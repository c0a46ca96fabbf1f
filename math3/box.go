package math3

import "math"

// Box3 is an axis-aligned bounding box.
type Box3 struct {
	Min, Max Vector3
}

// EmptyBox3 returns a box with inverted infinite bounds, the identity for
// ExpandByPoint and Union.
func EmptyBox3() Box3 {
	inf := math.Inf(1)
	return Box3{
		Min: Vector3{inf, inf, inf},
		Max: Vector3{-inf, -inf, -inf},
	}
}

// NewBox3 returns a box spanning min to max.
func NewBox3(min, max Vector3) Box3 {
	return Box3{Min: min, Max: max}
}

// IsEmpty reports whether the box contains no volume.
func (b Box3) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

// Center returns the box center.
func (b Box3) Center() Vector3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Size returns the box dimensions.
func (b Box3) Size() Vector3 {
	if b.IsEmpty() {
		return Vector3{}
	}
	return b.Max.Sub(b.Min)
}

// ExpandByPoint grows the box to contain p.
func (b Box3) ExpandByPoint(p Vector3) Box3 {
	return Box3{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Union returns the smallest box containing both b and o.
func (b Box3) Union(o Box3) Box3 {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Box3{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// ContainsPoint reports whether p lies inside the box (inclusive).
func (b Box3) ContainsPoint(p Vector3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Corners returns the 8 corners of the box.
func (b Box3) Corners() [8]Vector3 {
	return [8]Vector3{
		{b.Min.X, b.Min.Y, b.Min.Z},
		{b.Max.X, b.Min.Y, b.Min.Z},
		{b.Min.X, b.Max.Y, b.Min.Z},
		{b.Max.X, b.Max.Y, b.Min.Z},
		{b.Min.X, b.Min.Y, b.Max.Z},
		{b.Max.X, b.Min.Y, b.Max.Z},
		{b.Min.X, b.Max.Y, b.Max.Z},
		{b.Max.X, b.Max.Y, b.Max.Z},
	}
}

// ApplyMatrix4 returns the axis-aligned box containing the transformed
// corners of b.
func (b Box3) ApplyMatrix4(m Matrix4) Box3 {
	out := EmptyBox3()
	for _, c := range b.Corners() {
		out = out.ExpandByPoint(m.ApplyToPoint(c))
	}
	return out
}

// BoundingSphere returns the sphere circumscribing the box.
func (b Box3) BoundingSphere() Sphere {
	c := b.Center()
	return Sphere{Center: c, Radius: b.Max.Sub(c).Length()}
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center Vector3
	Radius float64
}

// ApplyMatrix4 transforms the sphere, scaling the radius by the largest
// column scale of m.
func (s Sphere) ApplyMatrix4(m Matrix4) Sphere {
	sx := Vector3{m[0], m[1], m[2]}.Length()
	sy := Vector3{m[4], m[5], m[6]}.Length()
	sz := Vector3{m[8], m[9], m[10]}.Length()
	return Sphere{
		Center: m.ApplyToPoint(s.Center),
		Radius: s.Radius * math.Max(sx, math.Max(sy, sz)),
	}
}

// Ray is a half-line used by raycast picking.
type Ray struct {
	Origin, Direction Vector3
}

// IntersectBox returns the distance along the ray to the first intersection
// with the box, or false when the ray misses.
func (r Ray) IntersectBox(b Box3) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	o := [3]float64{r.Origin.X, r.Origin.Y, r.Origin.Z}
	d := [3]float64{r.Direction.X, r.Direction.Y, r.Direction.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, false
			}
			continue
		}
		t1 := (lo[i] - o[i]) / d[i]
		t2 := (hi[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	if tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}
