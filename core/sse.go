package core

import (
	"math"

	"github.com/MeKo-Tech/terrastream/math3"
)

// SSEMode selects how many axes of the bounding box participate in the
// screen-space-error estimate.
type SSEMode int

const (
	// SSE2D measures the X and Y box edges only; used by planar map tiles.
	SSE2D SSEMode = iota
	// SSE3D also measures the Z edge; used by volumetric hierarchies.
	SSE3D
)

// SSE is the projected footprint of a bounding box: the screen-space origin,
// the projected edge vectors and their pixel lengths, an anisotropy ratio,
// and the NDC footprint area.
type SSE struct {
	Origin  math3.Vector2
	X, Y, Z math3.Vector2
	Lengths struct {
		X, Y, Z float64
	}
	Ratio float64
	Area  float64
}

// ComputeSSEFromBox3 projects the box (in the space of worldMatrix) and
// estimates its on-screen size. Returns nil when every corner lies on the
// camera side of the near plane, i.e. the box is not meaningfully visible.
func ComputeSSEFromBox3(v *View, box math3.Box3, worldMatrix *math3.Matrix4, mode SSEMode) *SSE {
	toCamera := v.CameraMatrixInverse()
	if worldMatrix != nil {
		toCamera = toCamera.Mul(*worldMatrix)
	}
	near := v.Camera.Near

	// The camera looks down -Z: a corner is past the near plane when
	// z <= -near.
	anyBeyondNear := false
	for _, c := range box.Corners() {
		if toCamera.ApplyToPoint(c).Z <= -near {
			anyBeyondNear = true
			break
		}
	}
	if !anyBeyondNear {
		return nil
	}

	proj := v.Camera.ProjectionMatrix()
	toPixels := func(p math3.Vector3) math3.Vector2 {
		cam := toCamera.ApplyToPoint(p)
		if cam.Z > -near {
			cam.Z = -near
		}
		ndc := proj.ApplyToPoint(cam)
		return math3.Vec2(
			(ndc.X+1)/2*v.Camera.Width,
			(1-ndc.Y)/2*v.Camera.Height,
		)
	}

	origin := toPixels(box.Min)
	xEnd := toPixels(math3.Vec3(box.Max.X, box.Min.Y, box.Min.Z))
	yEnd := toPixels(math3.Vec3(box.Min.X, box.Max.Y, box.Min.Z))

	out := &SSE{Origin: origin}
	out.X = xEnd.Sub(origin)
	out.Y = yEnd.Sub(origin)
	out.Lengths.X = out.X.Length()
	out.Lengths.Y = out.Y.Length()

	if mode == SSE3D {
		zEnd := toPixels(math3.Vec3(box.Min.X, box.Min.Y, box.Max.Z))
		out.Z = zEnd.Sub(origin)
		out.Lengths.Z = out.Z.Length()
	}

	// Ratio measures how perpendicular the projected edges remain: 1 for a
	// face-on box, approaching 0 at grazing angles. It damps the 2D
	// subdivision test for tiles seen edge-on.
	cross := out.X.X*out.Y.Y - out.X.Y*out.Y.X
	if out.Lengths.X > 0 && out.Lengths.Y > 0 {
		out.Ratio = math.Abs(cross) / (out.Lengths.X * out.Lengths.Y)
	}

	// NDC footprint area of the XY face.
	if v.Camera.Width > 0 && v.Camera.Height > 0 {
		out.Area = math.Abs(cross) * 4 / (v.Camera.Width * v.Camera.Height)
	}

	return out
}
