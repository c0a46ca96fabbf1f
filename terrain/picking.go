package terrain

import (
	"image"
	"math"
	"sort"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/render"
)

// PickOptions parameterize a pick.
type PickOptions struct {
	// Radius widens the probe around the pick coordinate, in pixels.
	Radius int
	// Limit caps the number of results; zero means unlimited.
	Limit int
	// GPUPicking reads tile ids and elevations back from a picking render;
	// otherwise tiles are raycast.
	GPUPicking bool
}

// PickResult is one map hit.
type PickResult struct {
	Tile        *TileMesh
	Coordinates geo.Coordinates
	Elevation   float64
	// Distance is the pixel distance from the pick center (GPU picking) or
	// the ray distance (raycasting).
	Distance float64
	UV       math3.Vector2
}

// TraversePickingCircle enumerates pixel offsets within radius in
// non-decreasing integer-radius order, so the closest pixels are reported
// first. The visitor receives (dx, dy, linearIndex) into the (2R+1)² zone
// grid; returning false aborts the walk.
func TraversePickingCircle(radius int, visit func(x, y, idx int) bool) {
	if radius < 0 {
		return
	}
	width := 2*radius + 1
	for r := 0; r <= radius; r++ {
		rr := r * r
		prev := (r - 1) * (r - 1)
		for y := -r; y <= r; y++ {
			for x := -r; x <= r; x++ {
				d := x*x + y*y
				if d > rr || (r > 0 && d <= prev) {
					continue
				}
				idx := (y+radius)*width + (x + radius)
				if !visit(x, y, idx) {
					return
				}
			}
		}
	}
}

// pickGPU renders the map in picking state into a zone around the pick
// coordinate and decodes (tileID, elevation, u, v) pixels in circle order.
func (m *Map) pickGPU(ctx *core.Context, px, py float64, opts PickOptions) []PickResult {
	renderer := ctx.Instance.Renderer()
	if renderer == nil {
		return nil
	}

	radius := opts.Radius
	width := 2*radius + 1
	zone := image.Rect(int(px)-radius, int(py)-radius, int(px)+radius+1, int(py)+radius+1)

	// Swap every visible tile into the picking program for the readback.
	var restores []func()
	m.forEachTile(func(t *TileMesh) {
		if t.NodeVisible() {
			restores = append(restores, t.material.PushRenderState(RenderStatePicking))
		}
	})
	buf, err := renderer.RenderToBuffer(render.BufferRequest{
		Scene:    m,
		Camera:   &ctx.View.Camera,
		Zone:     zone,
		DataType: render.TypeFloat32,
	})
	for _, restore := range restores {
		restore()
	}
	if err != nil || len(buf.Floats) < width*width*4 {
		return nil
	}

	var out []PickResult
	TraversePickingCircle(radius, func(x, y, idx int) bool {
		base := idx * 4
		tileID := uint32(buf.Floats[base])
		if tileID == 0 {
			return true
		}
		tile := m.index.GetByID(tileID)
		if tile == nil || tile.Disposed() {
			return true
		}
		elevation := float64(buf.Floats[base+1])
		u := float64(buf.Floats[base+2])
		v := float64(buf.Floats[base+3])

		ext := tile.Extent()
		out = append(out, PickResult{
			Tile:      tile,
			Elevation: elevation,
			Distance:  math.Hypot(float64(x), float64(y)),
			UV:        math3.Vec2(u, v),
			Coordinates: geo.Coordinates{
				CRS: ext.CRS,
				X:   ext.West + u*ext.Width(),
				Y:   ext.South + v*ext.Height(),
				Z:   elevation,
			},
		})
		return opts.Limit == 0 || len(out) < opts.Limit
	})
	// Ring enumeration is only ring-ordered; make the result strictly
	// distance-ordered.
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// pickRaycast intersects the pick ray (and, with a radius, rays on the
// picking circle) against the visible tiles' bounding boxes.
func (m *Map) pickRaycast(ctx *core.Context, px, py float64, opts PickOptions) []PickResult {
	var out []PickResult
	seen := make(map[uint32]bool)

	castAt := func(x, y float64) {
		ray := m.rayThroughPixel(ctx, x, y)
		var hits []PickResult
		m.forEachTile(func(t *TileMesh) {
			if !t.NodeVisible() || !t.IsLeaf() {
				return
			}
			dist, ok := ray.IntersectBox(t.BoundingBox())
			if !ok {
				return
			}
			p := ray.Origin.Add(ray.Direction.Scale(dist))
			ext := t.Extent()
			if ext.Width() == 0 || ext.Height() == 0 {
				return
			}
			hits = append(hits, PickResult{
				Tile:      t,
				Elevation: p.Z,
				Distance:  dist,
				UV: math3.Vec2(
					(p.X-ext.West)/ext.Width(),
					(p.Y-ext.South)/ext.Height(),
				),
				Coordinates: geo.Coordinates{CRS: ext.CRS, X: p.X, Y: p.Y, Z: p.Z},
			})
		})
		sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
		for _, h := range hits {
			if seen[h.Tile.ID()] {
				continue
			}
			seen[h.Tile.ID()] = true
			out = append(out, h)
		}
	}

	if opts.Radius <= 0 {
		castAt(px, py)
	} else {
		TraversePickingCircle(opts.Radius, func(dx, dy, _ int) bool {
			castAt(px+float64(dx), py+float64(dy))
			return opts.Limit == 0 || len(out) < opts.Limit
		})
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// rayThroughPixel builds the world-space ray through a screen pixel.
func (m *Map) rayThroughPixel(ctx *core.Context, px, py float64) math3.Ray {
	cam := &ctx.View.Camera
	ndcX := px/cam.Width*2 - 1
	ndcY := 1 - py/cam.Height*2

	inv, ok := ctx.View.ViewMatrix().Invert()
	if !ok {
		return math3.Ray{Direction: math3.Vec3(0, 0, -1)}
	}
	near := inv.ApplyToPoint(math3.Vec3(ndcX, ndcY, -1))
	far := inv.ApplyToPoint(math3.Vec3(ndcX, ndcY, 1))
	return math3.Ray{
		Origin:    near,
		Direction: far.Sub(near).Normalize(),
	}
}

// Pick probes the map at screen coordinates.
func (m *Map) Pick(ctx *core.Context, px, py float64, opts PickOptions) []PickResult {
	if opts.GPUPicking {
		return m.pickGPU(ctx, px, py, opts)
	}
	return m.pickRaycast(ctx, px, py, opts)
}
