package terrain

import (
	"fmt"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/render"
)

// TileMesh is a quadtree node of a map: an extent at a (level, x, y)
// address, a layered material, and a geometry shared with every tile of the
// same segment count.
type TileMesh struct {
	id     uint32
	level  int
	x, y   int
	extent geo.Extent

	parent   *TileMesh
	children [4]*TileMesh

	material *LayeredMaterial
	geometry *TileGeometry

	// minmax is the tile's elevation range, seeded from the elevation
	// layer before any data arrives and refined as textures land.
	minmax       [2]float64
	elevationSet bool

	textureSize ImageSize
	segments    int

	disposed    bool
	disposeSubs []func()
}

// ID returns the numeric tile id used by GPU picking.
func (t *TileMesh) ID() uint32 { return t.id }

// Level returns the subdivision depth, 0 for roots.
func (t *TileMesh) Level() int { return t.level }

// Coords returns the (x, y) address within the level grid.
func (t *TileMesh) Coords() (int, int) { return t.x, t.y }

// Extent returns the tile's extent.
func (t *TileMesh) Extent() geo.Extent { return t.extent }

// Material returns the tile material.
func (t *TileMesh) Material() *LayeredMaterial { return t.material }

// Geometry returns the shared grid geometry.
func (t *TileMesh) Geometry() *TileGeometry { return t.geometry }

// Parent returns the parent tile, nil for roots.
func (t *TileMesh) Parent() *TileMesh { return t.parent }

// Children returns the 4 children, all nil while the tile is a leaf.
func (t *TileMesh) Children() [4]*TileMesh { return t.children }

// IsLeaf reports whether the tile has no children.
func (t *TileMesh) IsLeaf() bool { return t.children[0] == nil }

// Disposed reports whether the tile left the tree.
func (t *TileMesh) Disposed() bool { return t.disposed }

// SetElevationRange seeds or overwrites the tile's elevation range.
func (t *TileMesh) SetElevationRange(min, max float64) {
	t.minmax = [2]float64{min, max}
	t.elevationSet = true
}

// ElevationRange returns the current z range.
func (t *TileMesh) ElevationRange() (float64, float64) {
	return t.minmax[0], t.minmax[1]
}

// BoundingBox returns the tile's world box: the extent in XY, the elevation
// range in Z.
func (t *TileMesh) BoundingBox() math3.Box3 {
	return math3.NewBox3(
		math3.Vec3(t.extent.West, t.extent.South, t.minmax[0]),
		math3.Vec3(t.extent.East, t.extent.North, t.minmax[1]),
	)
}

// layer.Node implementation.

func (t *TileMesh) NodeID() string {
	return fmt.Sprintf("tile-%d", t.id)
}

func (t *TileMesh) NodeExtent() geo.Extent { return t.extent }

func (t *TileMesh) TileLevel() int { return t.level }

func (t *TileMesh) NodeVisible() bool {
	return !t.disposed && t.material.Visible()
}

func (t *TileMesh) ParentNode() layer.Node {
	if t.parent == nil {
		return nil
	}
	return t.parent
}

func (t *TileMesh) OnDispose(fn func()) func() {
	t.disposeSubs = append(t.disposeSubs, fn)
	idx := len(t.disposeSubs) - 1
	return func() {
		// After Dispose the subscription list is already gone.
		if idx < len(t.disposeSubs) {
			t.disposeSubs[idx] = nil
		}
	}
}

// ApplyTexture installs a layer paint and, for elevation textures, refines
// the tile's z range from the actual data.
func (t *TileMesh) ApplyTexture(layerID string, tex *render.Texture, pitch geo.OffsetScale, isLast bool) {
	if t.disposed {
		return
	}
	t.material.SetTexture(layerID, tex, pitch, isLast)
	if tex != nil && tex.Format == render.FormatRG {
		if min, max, ok := tex.MinMax(); ok {
			t.SetElevationRange(min, max)
		}
	}
}

// HasElevationData reports whether an elevation texture has landed (or the
// tile inherited a seeded range), gating subdivision.
func (t *TileMesh) HasElevationData() bool { return t.elevationSet }

// Dispose detaches the tile: descendants first, then its own material and
// subscriptions. Idempotent.
func (t *TileMesh) Dispose() {
	if t.disposed {
		return
	}
	for _, c := range t.children {
		if c != nil {
			c.Dispose()
		}
	}
	t.children = [4]*TileMesh{}
	t.disposed = true
	for _, fn := range t.disposeSubs {
		if fn != nil {
			fn()
		}
	}
	t.disposeSubs = nil
	t.material.Dispose()
}
