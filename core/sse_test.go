package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/terrastream/math3"
)

func testView(t *testing.T) *View {
	t.Helper()
	v := NewView(1000, 1000)
	v.Camera.FovY = math.Pi / 2
	v.SetPlanes(2, 1e6)
	v.LookAt(math3.Vec3(0, 0, 100), math3.Vec3(0, 0, 0))
	return v
}

func TestSSENullWhenAllCornersBeforeNearPlane(t *testing.T) {
	v := testView(t)
	// Box floating less than 1 unit in front of the camera: closer than the
	// near plane on every corner.
	box := math3.NewBox3(math3.Vec3(-0.1, -0.1, 99.2), math3.Vec3(0.1, 0.1, 99.4))
	assert.Nil(t, ComputeSSEFromBox3(v, box, nil, SSE2D))
}

func TestSSEVisibleBoxHasPositiveLengths(t *testing.T) {
	v := testView(t)
	box := math3.NewBox3(math3.Vec3(-50, -50, 0), math3.Vec3(50, 50, 0))

	sse := ComputeSSEFromBox3(v, box, nil, SSE2D)
	require.NotNil(t, sse)
	assert.Greater(t, sse.Lengths.X, 0.0)
	assert.Greater(t, sse.Lengths.Y, 0.0)

	// Face-on square: isotropic projection.
	assert.InDelta(t, sse.Lengths.X, sse.Lengths.Y, 1e-6)
	assert.InDelta(t, 1.0, sse.Ratio, 1e-9)
	assert.Greater(t, sse.Area, 0.0)

	// 100 world units at distance 100 with fov 90° spans half the viewport.
	assert.InDelta(t, 500, sse.Lengths.X, 1)
}

func TestSSEShrinksWithDistance(t *testing.T) {
	v := testView(t)
	box := math3.NewBox3(math3.Vec3(-50, -50, 0), math3.Vec3(50, 50, 0))
	nearSSE := ComputeSSEFromBox3(v, box, nil, SSE2D)
	require.NotNil(t, nearSSE)

	v.LookAt(math3.Vec3(0, 0, 400), math3.Vec3(0, 0, 0))
	farSSE := ComputeSSEFromBox3(v, box, nil, SSE2D)
	require.NotNil(t, farSSE)

	assert.Less(t, farSSE.Lengths.X, nearSSE.Lengths.X)
}

func TestSSE3DMeasuresZEdge(t *testing.T) {
	v := NewView(1000, 1000)
	v.Camera.FovY = math.Pi / 2
	v.SetPlanes(2, 1e6)
	v.LookAt(math3.Vec3(200, 0, 50), math3.Vec3(0, 0, 50))

	box := math3.NewBox3(math3.Vec3(-10, -10, 0), math3.Vec3(10, 10, 100))
	sse := ComputeSSEFromBox3(v, box, nil, SSE3D)
	require.NotNil(t, sse)
	assert.Greater(t, sse.Lengths.Z, 0.0)
}

func TestViewFrustumHelpers(t *testing.T) {
	v := testView(t)

	visible := math3.NewBox3(math3.Vec3(-1, -1, -1), math3.Vec3(1, 1, 1))
	behind := math3.NewBox3(math3.Vec3(-1, -1, 300), math3.Vec3(1, 1, 310))

	assert.True(t, v.IsBox3Visible(visible, nil))
	assert.False(t, v.IsBox3Visible(behind, nil))

	// A world matrix moving the behind-box back into view.
	m := math3.Translation(0, 0, -300)
	assert.True(t, v.IsBox3Visible(behind, &m))

	assert.True(t, v.IsSphereVisible(math3.Sphere{Center: math3.Vec3(0, 0, 0), Radius: 5}, nil))
}

func TestViewPlaneClamping(t *testing.T) {
	v := NewView(100, 100)
	v.SetPlanes(0.001, 1e12)
	assert.Equal(t, MinNearPlane, v.Camera.Near)
	assert.Equal(t, MaxFarPlane, v.Camera.Far)

	v.SetPlanes(500, 100) // far < near collapses onto near
	assert.Equal(t, 500.0, v.Camera.Near)
	assert.Equal(t, 500.0, v.Camera.Far)
}

func TestPreSSE(t *testing.T) {
	v := NewView(800, 600)
	v.Camera.FovY = math.Pi / 2
	assert.InDelta(t, 300, v.PreSSE(), 1e-9) // 600 / (2*tan(45°))

	v.Camera.Perspective = false
	v.Camera.Top, v.Camera.Bottom = 50, -50
	v.Camera.Near = 10
	assert.InDelta(t, 60, v.PreSSE(), 1e-9) // 600*10/100
}
