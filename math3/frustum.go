package math3

// Plane is a half-space in the form Normal·p + D >= 0.
type Plane struct {
	Normal Vector3
	D      float64
}

// Normalize scales the plane so Normal has unit length.
func (p Plane) Normalize() Plane {
	l := p.Normal.Length()
	if l == 0 {
		return p
	}
	inv := 1 / l
	return Plane{Normal: p.Normal.Scale(inv), D: p.D * inv}
}

// DistanceToPoint returns the signed distance from pt to the plane.
func (p Plane) DistanceToPoint(pt Vector3) float64 {
	return p.Normal.Dot(pt) + p.D
}

// Frustum is the six clipping planes of a camera, normals pointing inward.
type Frustum [6]Plane

// FrustumFromMatrix extracts the frustum planes from a combined
// projection*view matrix (Gribb/Hartmann).
func FrustumFromMatrix(m Matrix4) Frustum {
	row := func(i int) Vector4 {
		return Vector4{m[i], m[4+i], m[8+i], m[12+i]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	plane := func(a, b Vector4, sub bool) Plane {
		var v Vector4
		if sub {
			v = Vector4{a.X - b.X, a.Y - b.Y, a.Z - b.Z, a.W - b.W}
		} else {
			v = Vector4{a.X + b.X, a.Y + b.Y, a.Z + b.Z, a.W + b.W}
		}
		return Plane{Normal: Vector3{v.X, v.Y, v.Z}, D: v.W}.Normalize()
	}
	return Frustum{
		plane(r3, r0, false), // left
		plane(r3, r0, true),  // right
		plane(r3, r1, false), // bottom
		plane(r3, r1, true),  // top
		plane(r3, r2, false), // near
		plane(r3, r2, true),  // far
	}
}

// IntersectsBox reports whether the box intersects or is contained in the
// frustum.
func (f Frustum) IntersectsBox(b Box3) bool {
	for _, p := range f {
		// Pick the box corner furthest along the plane normal; if even that
		// corner is outside, the whole box is outside.
		v := Vector3{b.Min.X, b.Min.Y, b.Min.Z}
		if p.Normal.X > 0 {
			v.X = b.Max.X
		}
		if p.Normal.Y > 0 {
			v.Y = b.Max.Y
		}
		if p.Normal.Z > 0 {
			v.Z = b.Max.Z
		}
		if p.DistanceToPoint(v) < 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether the sphere intersects the frustum.
func (f Frustum) IntersectsSphere(s Sphere) bool {
	for _, p := range f {
		if p.DistanceToPoint(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
