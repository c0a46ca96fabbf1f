package pointcloud

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/render"
)

// PickResult is one picked point.
type PickResult struct {
	Mesh       *PointMesh
	PointIndex int
	Position   math3.Vector3
	Distance   float64
}

// DecodePickPixel decodes one pixel of a GPU picking readback into a point
// index and mesh id. The shader packs both as float channels.
//
// TODO: the upstream picking shader also wrote a per-pixel object-id
// consistency flag meant to reject stale pixels, but its test compared the
// id against itself and could never fire; decide whether a real check (id
// vs the expected mesh id) is worth the extra channel before wiring one in.
func DecodePickPixel(buf render.Buffer, idx int) (pointIndex int, meshID uint32, ok bool) {
	base := idx * 4
	if base+1 >= len(buf.Floats) {
		return 0, 0, false
	}
	meshID = uint32(buf.Floats[base+1])
	if meshID == 0 {
		return 0, 0, false
	}
	return int(buf.Floats[base]), meshID, true
}

// Pick raycasts the displayed meshes and returns the points lying within
// maxDistance of the pick ray, nearest first.
func (pc *PointCloud) Pick(ctx *core.Context, px, py float64, maxDistance float64, limit int) []PickResult {
	ray := pc.rayThroughPixel(ctx, px, py)
	if maxDistance <= 0 {
		maxDistance = 1
	}

	var out []PickResult
	for _, info := range pc.infos {
		if info.state != StateDisplayed || info.mesh == nil {
			continue
		}
		m := info.mesh
		// Volumes are world-space; a widened box absorbs the pick radius.
		probe := m.BoundingBox()
		probe.Min = probe.Min.Sub(math3.Vec3(maxDistance, maxDistance, maxDistance))
		probe.Max = probe.Max.Add(math3.Vec3(maxDistance, maxDistance, maxDistance))
		if _, hit := ray.IntersectBox(probe); !hit {
			continue
		}
		scale := m.scale
		if scale == 0 {
			scale = 1
		}
		for i := 0; i+2 < len(m.positions); i += 3 {
			p := math3.Vec3(
				m.origin.X+float64(m.positions[i])*scale,
				m.origin.Y+float64(m.positions[i+1])*scale,
				m.origin.Z+float64(m.positions[i+2])*scale,
			)
			d, along := distanceToRay(ray, p)
			if d > maxDistance || along < 0 {
				continue
			}
			out = append(out, PickResult{
				Mesh:       m,
				PointIndex: i / 3,
				Position:   p,
				Distance:   along,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (pc *PointCloud) rayThroughPixel(ctx *core.Context, px, py float64) math3.Ray {
	cam := &ctx.View.Camera
	ndcX := px/cam.Width*2 - 1
	ndcY := 1 - py/cam.Height*2

	inv, ok := ctx.View.ViewMatrix().Invert()
	if !ok {
		return math3.Ray{Direction: math3.Vec3(0, 0, -1)}
	}
	near := inv.ApplyToPoint(math3.Vec3(ndcX, ndcY, -1))
	far := inv.ApplyToPoint(math3.Vec3(ndcX, ndcY, 1))
	return math3.Ray{Origin: near, Direction: far.Sub(near).Normalize()}
}

// distanceToRay returns the perpendicular distance from p to the ray and
// the along-ray parameter of the closest approach.
func distanceToRay(r math3.Ray, p math3.Vector3) (float64, float64) {
	w := p.Sub(r.Origin)
	along := w.Dot(r.Direction)
	closest := r.Origin.Add(r.Direction.Scale(along))
	return math.Sqrt(p.Sub(closest).LengthSq()), along
}
