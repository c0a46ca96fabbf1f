package terrain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/source"
)

func testSetup(t *testing.T, extent geo.Extent) (*core.Instance, *Map) {
	t.Helper()
	inst, err := core.NewInstance(core.InstanceConfig{CRS: geo.WebMercator, Width: 1000, Height: 1000})
	require.NoError(t, err)
	inst.View().Camera.FovY = math.Pi / 2

	m, err := New(Config{Extent: extent})
	require.NoError(t, err)
	require.NoError(t, inst.Add(m))
	return inst, m
}

func lookDownAt(inst *core.Instance, x, y, height float64) {
	inst.View().LookAt(math3.Vec3(x, y, height), math3.Vec3(x, y, 0))
	inst.NotifyChange(nil, true)
}

func TestPreprocessRootGrid(t *testing.T) {
	_, m := testSetup(t, geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5))
	assert.Equal(t, Subdivisions{X: 1, Y: 1}, m.Subdivisions())
	assert.Equal(t, 1, m.Index().Len())

	_, wide := testSetup(t, geo.MustExtent(geo.WebMercator, 0, 3.4e5, 0, 1e5))
	assert.Equal(t, Subdivisions{X: 3, Y: 1}, wide.Subdivisions())
	assert.Equal(t, 3, wide.Index().Len())
	// Longer axis carries proportionally more pixels per tile.
	is := wide.ImageSize()
	assert.GreaterOrEqual(t, is.X, 256)
}

func TestNoLayersAllocatesNoTargets(t *testing.T) {
	inst, _ := testSetup(t, geo.MustExtent(geo.WebMercator, -2e7, 2e7, -2e7, 2e7))

	for _, h := range []float64{3e7, 1e7, 5e6, 1e7, 3e7} {
		lookDownAt(inst, 0, 0, h)
		inst.Loop().Step()
	}

	acquired, idle := inst.Targets().Stats()
	assert.Equal(t, 0, acquired)
	assert.Equal(t, 0, idle)
}

func TestSubdivisionFollowsCamera(t *testing.T) {
	inst, m := testSetup(t, geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5))

	// Far away: root only.
	lookDownAt(inst, 0, 0, 8e5)
	inst.Loop().Step()
	assert.Equal(t, 1, m.Index().Len())

	// Close: the root splits.
	lookDownAt(inst, 0, 0, 1e5)
	inst.Loop().Step()
	assert.Greater(t, m.Index().Len(), 1, "root subdivided")

	root := m.Index().Get(0, 0, 0)
	require.NotNil(t, root)
	assert.False(t, root.Material().Visible(), "children replace the parent")
	require.False(t, root.IsLeaf())

	// Children carry Morton-ordered coordinates.
	kids := root.Children()
	assert.Equal(t, [2]int{0, 0}, coordsOf(kids[0]))
	assert.Equal(t, [2]int{1, 0}, coordsOf(kids[1]))
	assert.Equal(t, [2]int{0, 1}, coordsOf(kids[2]))
	assert.Equal(t, [2]int{1, 1}, coordsOf(kids[3]))

	// Far again: subdivision collapses.
	lookDownAt(inst, 0, 0, 8e5)
	inst.Loop().Step()
	assert.Equal(t, 1, m.Index().Len())
	assert.True(t, root.IsLeaf())
	for _, k := range kids {
		assert.True(t, k.Disposed())
	}
}

func TestSynchronousLayerPaintsVisibleLeaves(t *testing.T) {
	inst, m := testSetup(t, geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5))

	l, err := layer.NewColor(layer.Config{
		ID:     "basemap",
		Source: source.NewNoise(source.NoiseConfig{Extent: m.Extent(), Seed: 1}),
	})
	require.NoError(t, err)
	require.NoError(t, m.AddLayer(l))

	// Initialization runs on a goroutine; wait for readiness.
	waitFor(t, func() bool { return l.Ready() })

	lookDownAt(inst, 0, 0, 8e5)
	inst.Loop().Step()

	root := m.Index().Get(0, 0, 0)
	require.NotNil(t, root)
	assert.True(t, root.Material().TextureComplete("basemap"))
}

func TestDuplicateLayerIDRejected(t *testing.T) {
	_, m := testSetup(t, geo.MustExtent(geo.WebMercator, 0, 1e5, 0, 1e5))
	mk := func() *layer.Layer {
		l, err := layer.NewColor(layer.Config{
			ID:     "dup",
			Source: source.NewNoise(source.NoiseConfig{Extent: m.Extent()}),
		})
		require.NoError(t, err)
		return l
	}
	require.NoError(t, m.AddLayer(mk()))
	assert.Error(t, m.AddLayer(mk()))
}

func TestElevationGatesSubdivision(t *testing.T) {
	inst, m := testSetup(t, geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5))

	dem, err := layer.NewElevation(layer.Config{
		ID: "dem",
		Source: source.NewNoise(source.NoiseConfig{
			Extent: m.Extent(), Mode: source.NoiseElevation, MinValue: 10, MaxValue: 200, Seed: 2,
		}),
	})
	require.NoError(t, err)
	require.NoError(t, m.AddLayer(dem))

	// Close enough that the SSE test alone would subdivide.
	lookDownAt(inst, 0, 0, 1e5)

	if !dem.Ready() {
		inst.Loop().Step()
		assert.Equal(t, 1, m.Index().Len(), "no subdivision while the elevation layer is not ready")
	}

	waitFor(t, func() bool { return dem.Ready() })
	// One frame paints the root's elevation, the next may subdivide.
	inst.Loop().Step()
	inst.NotifyChange(nil, true)
	inst.Loop().Step()
	assert.Greater(t, m.Index().Len(), 1)

	// Scenario: minmax seeds the root bounding box.
	root := m.Index().Get(0, 0, 0)
	require.NotNil(t, root)
	lo, hi := root.ElevationRange()
	assert.GreaterOrEqual(t, lo, 10.0)
	assert.LessOrEqual(t, hi, 200.0)
}

func TestGetElevation(t *testing.T) {
	inst, m := testSetup(t, geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5))

	noise := source.NewNoise(source.NoiseConfig{
		Extent: m.Extent(), Mode: source.NoiseElevation, MinValue: 100, MaxValue: 300, Seed: 5,
	})
	dem, err := layer.NewElevation(layer.Config{ID: "dem", Source: noise})
	require.NoError(t, err)
	require.NoError(t, m.AddLayer(dem))
	waitFor(t, func() bool { return dem.Ready() })

	lookDownAt(inst, 0, 0, 5e5)
	inst.Loop().Step()

	v, err := m.GetElevation(geo.NewCoordinates(geo.WebMercator, 0, 0, 0))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 100.0)
	assert.LessOrEqual(t, v, 300.0)

	_, err = m.GetElevation(geo.NewCoordinates(geo.WebMercator, 9e7, 9e7, 0))
	assert.Error(t, err, "outside every tile")
}

func TestStitchingNeighbourLevels(t *testing.T) {
	_, m := testSetup(t, geo.MustExtent(geo.WebMercator, -1e5, 1e5, -1e5, 1e5))

	// Hand-build an uneven tree: the root splits, and only the NW child
	// splits again, leaving level-2 leaves bordering level-1 ones.
	root := m.Index().Get(0, 0, 0)
	require.NotNil(t, root)
	m.subdivide(root)
	root.material.SetVisible(false)
	nw := root.Children()[0]
	m.subdivide(nw)
	nw.material.SetVisible(false)
	for _, c := range nw.Children() {
		c.material.SetVisible(true)
	}
	rootChildren := root.Children()
	for _, c := range rootChildren[1:] {
		c.material.SetVisible(true)
	}

	m.updateStitching("")

	// The NW child's SE grandchild touches the NE and SW level-1 leaves.
	se := nw.Children()[3]
	require.True(t, se.IsLeaf())
	assert.Equal(t, 1, se.Material().NeighbourLevels[East], "coarser neighbour east")
	assert.Equal(t, 1, se.Material().NeighbourLevels[South], "coarser neighbour south")
	assert.Equal(t, 2, se.Material().NeighbourLevels[North], "same-level sibling north")
	assert.Equal(t, 2, se.Material().NeighbourLevels[West], "same-level sibling west")

	// A level-1 leaf with no neighbour beyond the map edge records none.
	ne := root.Children()[1]
	assert.Equal(t, -1, ne.Material().NeighbourLevels[East])
}

func coordsOf(t *TileMesh) [2]int {
	x, y := t.Coords()
	return [2]int{x, y}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}
