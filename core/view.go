package core

import (
	"math"

	"github.com/MeKo-Tech/terrastream/math3"
)

// Near/far plane clamps.
const (
	MinNearPlane = 2.0
	MaxFarPlane  = 2e9
)

// Camera holds the projection parameters and pose of the main camera.
type Camera struct {
	// Perspective selects between perspective and orthographic projection.
	Perspective bool
	// FovY is the vertical field of view in radians (perspective only).
	FovY float64
	// Top and Bottom bound the orthographic volume.
	Top, Bottom, Left, Right float64

	Near, Far     float64
	Width, Height float64

	// World is the camera's world matrix (pose); the view matrix is its
	// inverse.
	World math3.Matrix4
}

// Position returns the camera's world position.
func (c *Camera) Position() math3.Vector3 {
	return math3.Vec3(c.World[12], c.World[13], c.World[14])
}

// ProjectionMatrix builds the projection from the current parameters.
func (c *Camera) ProjectionMatrix() math3.Matrix4 {
	if c.Perspective {
		aspect := 1.0
		if c.Height != 0 {
			aspect = c.Width / c.Height
		}
		return math3.Perspective(c.FovY, aspect, c.Near, c.Far)
	}
	return math3.Orthographic(c.Left, c.Right, c.Top, c.Bottom, c.Near, c.Far)
}

// View wraps the main camera with the per-frame derived state: the combined
// view matrix and the frustum.
type View struct {
	Camera Camera

	viewMatrix math3.Matrix4
	frustum    math3.Frustum
	dirty      bool
}

// NewView creates a view with a default perspective camera.
func NewView(width, height int) *View {
	v := &View{
		Camera: Camera{
			Perspective: true,
			FovY:        math.Pi / 4,
			Near:        MinNearPlane,
			Far:         MaxFarPlane,
			Width:       float64(width),
			Height:      float64(height),
			World:       math3.Identity(),
		},
		dirty: true,
	}
	v.Refresh()
	return v
}

// LookAt positions the camera at eye looking at target. Z is up, except for
// near-vertical view directions where Y takes over to keep the basis stable.
func (v *View) LookAt(eye, target math3.Vector3) {
	up := math3.Vec3(0, 0, 1)
	dir := eye.Sub(target).Normalize()
	if math.Abs(dir.Dot(up)) > 0.999 {
		up = math3.Vec3(0, 1, 0)
	}
	view := math3.LookAt(eye, target, up)
	world, ok := view.Invert()
	if ok {
		v.Camera.World = world
	}
	v.dirty = true
}

// NotifyChange marks the derived state stale; the next Refresh rebuilds it.
func (v *View) NotifyChange() {
	v.dirty = true
}

// Refresh recomputes viewMatrix = projection x inverse(world) and rebuilds
// the frustum. Called once per frame by the main loop.
func (v *View) Refresh() {
	inv, ok := v.Camera.World.Invert()
	if !ok {
		inv = math3.Identity()
	}
	v.viewMatrix = v.Camera.ProjectionMatrix().Mul(inv)
	v.frustum = math3.FrustumFromMatrix(v.viewMatrix)
	v.dirty = false
}

// ViewMatrix returns the combined projection*view matrix.
func (v *View) ViewMatrix() math3.Matrix4 {
	if v.dirty {
		v.Refresh()
	}
	return v.viewMatrix
}

// CameraMatrixInverse returns the world-to-camera matrix.
func (v *View) CameraMatrixInverse() math3.Matrix4 {
	inv, ok := v.Camera.World.Invert()
	if !ok {
		return math3.Identity()
	}
	return inv
}

// IsBox3Visible tests the (optionally transformed) box against the frustum.
func (v *View) IsBox3Visible(box math3.Box3, world *math3.Matrix4) bool {
	if v.dirty {
		v.Refresh()
	}
	if world != nil {
		box = box.ApplyMatrix4(*world)
	}
	return v.frustum.IntersectsBox(box)
}

// IsSphereVisible tests the (optionally transformed) sphere against the
// frustum.
func (v *View) IsSphereVisible(s math3.Sphere, world *math3.Matrix4) bool {
	if v.dirty {
		v.Refresh()
	}
	if world != nil {
		s = s.ApplyMatrix4(*world)
	}
	return v.frustum.IntersectsSphere(s)
}

// ResetPlanes clamps near and far into [MinNearPlane, MaxFarPlane].
func (v *View) ResetPlanes() {
	v.SetPlanes(MinNearPlane, MaxFarPlane)
}

// SetPlanes sets near/far, clamped into the legal range.
func (v *View) SetPlanes(near, far float64) {
	near = math.Max(near, MinNearPlane)
	far = math.Min(far, MaxFarPlane)
	if far < near {
		far = near
	}
	v.Camera.Near = near
	v.Camera.Far = far
	v.dirty = true
}

// PreSSE is the per-camera constant of the point-cloud SSE model:
// height/(2 tan(fov/2)) for perspective cameras, height*near/(top-bottom)
// for orthographic ones.
func (v *View) PreSSE() float64 {
	c := &v.Camera
	if c.Perspective {
		return c.Height / (2 * math.Tan(c.FovY/2))
	}
	span := c.Top - c.Bottom
	if span == 0 {
		return 0
	}
	return c.Height * c.Near / span
}

// ProjectToScreen maps a world point to pixel coordinates (origin top-left).
func (v *View) ProjectToScreen(p math3.Vector3) math3.Vector2 {
	ndc := v.ViewMatrix().ApplyToPoint(p)
	return math3.Vec2(
		(ndc.X+1)/2*v.Camera.Width,
		(1-ndc.Y)/2*v.Camera.Height,
	)
}
