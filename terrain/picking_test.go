package terrain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/render"
)

func TestPickingCircleVisitsEveryPixelExactlyOnce(t *testing.T) {
	const radius = 4
	width := 2*radius + 1

	visited := make(map[int]int)
	TraversePickingCircle(radius, func(x, y, idx int) bool {
		require.LessOrEqual(t, x*x+y*y, radius*radius)
		require.Equal(t, (y+radius)*width+(x+radius), idx)
		visited[idx]++
		return true
	})

	inCircle := 0
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius {
				inCircle++
				idx := (y+radius)*width + (x + radius)
				assert.Equal(t, 1, visited[idx], "pixel (%d,%d)", x, y)
			}
		}
	}
	assert.Len(t, visited, inCircle)
}

func TestPickingCircleNonDecreasingDistance(t *testing.T) {
	prev := -1.0
	TraversePickingCircle(5, func(x, y, _ int) bool {
		d := math.Hypot(float64(x), float64(y))
		// Distances may not strictly increase within a ring, but the ring
		// ceiling never decreases.
		assert.GreaterOrEqual(t, math.Ceil(d), math.Floor(prev))
		if d > prev {
			prev = d
		}
		return true
	})
}

func TestPickingCircleFirstPixelIsCenter(t *testing.T) {
	var first [2]int
	calls := 0
	TraversePickingCircle(3, func(x, y, _ int) bool {
		if calls == 0 {
			first = [2]int{x, y}
		}
		calls++
		return false // abort immediately
	})
	assert.Equal(t, 1, calls, "visitor returning false aborts")
	assert.Equal(t, [2]int{0, 0}, first)
}

func TestPickingCircleZeroRadius(t *testing.T) {
	count := 0
	TraversePickingCircle(0, func(x, y, idx int) bool {
		assert.Equal(t, 0, x)
		assert.Equal(t, 0, y)
		assert.Equal(t, 0, idx)
		count++
		return true
	})
	assert.Equal(t, 1, count)
}

// pickRenderer fakes the GPU readback: every pixel of the zone reports the
// same tile with a UV derived from the pixel position.
type pickRenderer struct {
	tileID   uint32
	lost     func()
	restored func()
}

func (r *pickRenderer) Render(scene, camera any) {}
func (r *pickRenderer) RenderToBuffer(req render.BufferRequest) (render.Buffer, error) {
	w := req.Zone.Dx()
	h := req.Zone.Dy()
	floats := make([]float32, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			floats[i] = float32(r.tileID)
			floats[i+1] = 42.5 // elevation
			floats[i+2] = float32(x) / float32(w)
			floats[i+3] = float32(y) / float32(h)
		}
	}
	return render.Buffer{Floats: floats}, nil
}
func (r *pickRenderer) SetRenderTarget(t *render.Target) {}
func (r *pickRenderer) RenderTarget() *render.Target     { return nil }
func (r *pickRenderer) Size() (int, int)                 { return 1000, 1000 }
func (r *pickRenderer) OnContextLost(fn func())          { r.lost = fn }
func (r *pickRenderer) OnContextRestored(fn func())      { r.restored = fn }

func TestGPUPickingOrderAndLimit(t *testing.T) {
	fake := &pickRenderer{}
	inst, err := core.NewInstance(core.InstanceConfig{
		CRS: geo.WebMercator, Renderer: fake, Width: 1000, Height: 1000,
	})
	require.NoError(t, err)

	m, err := New(Config{Extent: geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5)})
	require.NoError(t, err)
	require.NoError(t, inst.Add(m))

	root := m.Index().Get(0, 0, 0)
	require.NotNil(t, root)
	fake.tileID = root.ID()

	inst.View().LookAt(math3.Vec3(0, 0, 5e5), math3.Vec3(0, 0, 0))
	inst.Loop().Step()

	ctx := &core.Context{Instance: inst, View: inst.View()}
	results := m.Pick(ctx, 100, 100, PickOptions{Radius: 2, GPUPicking: true, Limit: 5})

	require.Len(t, results, 5, "limit honoured")
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Distance, results[i-1].Distance,
			"results ordered by distance from the pick center")
	}
	first := results[0]
	assert.Same(t, root, first.Tile)
	assert.InDelta(t, 42.5, first.Elevation, 1e-6)
	assert.Equal(t, geo.WebMercator, first.Coordinates.CRS)
	// UV maps into the tile extent.
	assert.GreaterOrEqual(t, first.Coordinates.X, root.Extent().West)
	assert.LessOrEqual(t, first.Coordinates.X, root.Extent().East)
}

func TestRaycastPicking(t *testing.T) {
	inst, err := core.NewInstance(core.InstanceConfig{CRS: geo.WebMercator, Width: 1000, Height: 1000})
	require.NoError(t, err)
	inst.View().Camera.FovY = math.Pi / 2

	m, err := New(Config{Extent: geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5)})
	require.NoError(t, err)
	require.NoError(t, inst.Add(m))

	inst.View().LookAt(math3.Vec3(0, 0, 2e5), math3.Vec3(0, 0, 0))
	inst.Loop().Step()

	ctx := &core.Context{Instance: inst, View: inst.View()}

	// Center of the viewport: the ray hits the map plane at the origin.
	results := m.Pick(ctx, 500, 500, PickOptions{})
	require.NotEmpty(t, results)
	hit := results[0]
	assert.InDelta(t, 0, hit.Coordinates.X, 1e3)
	assert.InDelta(t, 0, hit.Coordinates.Y, 1e3)
	assert.InDelta(t, 2e5, hit.Distance, 1e3)

	// A pick far outside the map misses.
	miss := m.Pick(ctx, 999, 10, PickOptions{})
	assert.Empty(t, miss)
}
