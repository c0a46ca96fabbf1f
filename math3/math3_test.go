package math3

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixInvertRoundTrip(t *testing.T) {
	m := Perspective(math.Pi/3, 1.5, 1, 1000).Mul(LookAt(Vec3(10, 20, 30), Vec3(0, 0, 0), Vec3(0, 0, 1)))
	inv, ok := m.Invert()
	require.True(t, ok)

	id := m.Mul(inv)
	want := Identity()
	for i := range id {
		assert.InDelta(t, want[i], id[i], 1e-9, "element %d", i)
	}
}

func TestMatrixInvertSingular(t *testing.T) {
	_, ok := Matrix4{}.Invert()
	assert.False(t, ok)
}

func TestApplyToPointPerspectiveDivide(t *testing.T) {
	proj := Perspective(math.Pi/2, 1, 1, 100)
	// A point straight ahead at the near plane projects to NDC z=-1.
	p := proj.ApplyToPoint(Vec3(0, 0, -1))
	assert.InDelta(t, -1, p.Z, 1e-9)
	assert.InDelta(t, 0, p.X, 1e-9)
}

func TestBoxUnionAndCorners(t *testing.T) {
	a := NewBox3(Vec3(0, 0, 0), Vec3(1, 1, 1))
	b := NewBox3(Vec3(-1, 0.5, 0), Vec3(0.5, 2, 3))
	u := a.Union(b)
	assert.Equal(t, Vec3(-1, 0, 0), u.Min)
	assert.Equal(t, Vec3(1, 2, 3), u.Max)

	empty := EmptyBox3()
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, a, a.Union(empty))
	assert.Equal(t, a, empty.Union(a))

	seen := map[Vector3]bool{}
	for _, c := range a.Corners() {
		seen[c] = true
	}
	assert.Len(t, seen, 8)
}

func TestFrustumCulling(t *testing.T) {
	view := LookAt(Vec3(0, 0, 10), Vec3(0, 0, 0), Vec3(0, 1, 0))
	proj := Perspective(math.Pi/3, 1, 0.1, 100)
	f := FrustumFromMatrix(proj.Mul(view))

	inside := NewBox3(Vec3(-1, -1, -1), Vec3(1, 1, 1))
	behind := NewBox3(Vec3(-1, -1, 20), Vec3(1, 1, 30))
	assert.True(t, f.IntersectsBox(inside))
	assert.False(t, f.IntersectsBox(behind))

	assert.True(t, f.IntersectsSphere(Sphere{Center: Vec3(0, 0, 0), Radius: 1}))
	assert.False(t, f.IntersectsSphere(Sphere{Center: Vec3(0, 0, 50), Radius: 1}))
}

func TestRayIntersectBox(t *testing.T) {
	box := NewBox3(Vec3(-1, -1, -1), Vec3(1, 1, 1))

	d, ok := Ray{Origin: Vec3(0, 0, 5), Direction: Vec3(0, 0, -1)}.IntersectBox(box)
	require.True(t, ok)
	assert.InDelta(t, 4, d, 1e-12)

	_, ok = Ray{Origin: Vec3(0, 0, 5), Direction: Vec3(0, 0, 1)}.IntersectBox(box)
	assert.False(t, ok)

	// Origin inside the box hits the exit face.
	d, ok = Ray{Origin: Vec3(0, 0, 0), Direction: Vec3(1, 0, 0)}.IntersectBox(box)
	require.True(t, ok)
	assert.InDelta(t, 1, d, 1e-12)
}
