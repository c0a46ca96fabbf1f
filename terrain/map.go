package terrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
)

// DefaultSubdivisionThreshold scales the SSE test: a tile splits when its
// projected size exceeds threshold * imageSize pixels.
const DefaultSubdivisionThreshold = 1.5

// Config configures a Map.
type Config struct {
	// ID names the entity; empty generates one.
	ID string
	// Extent is the map's footprint in the instance CRS. Required.
	Extent geo.Extent
	// SubdivisionThreshold overrides DefaultSubdivisionThreshold.
	SubdivisionThreshold float64
	// MaxSubdivisionLevel caps the quadtree depth; zero means 17.
	MaxSubdivisionLevel int
	// Segments is the tile grid resolution; zero means 32.
	Segments int
	// TileSize is the per-tile texture budget of the shorter axis; zero
	// means 256.
	TileSize int
	// TerrainStitching aligns tile edges against T-junction cracks.
	TerrainStitching bool

	Logger *slog.Logger
}

// Map is the planar tiled map entity: a quadtree of TileMeshes subdivided
// by screen-space error and painted by raster layers.
type Map struct {
	core.Entity3D
	cfg Config

	extent       geo.Extent
	subdivisions Subdivisions
	imageSize    ImageSize

	roots      []*TileMesh
	index      *TileIndex
	geometries *geometryCache
	nextTileID uint32

	layers    []*layer.Layer
	atlas     *layer.Atlas
	instance  *core.Instance
	preproced bool
}

// New creates a map entity.
func New(cfg Config) (*Map, error) {
	if !cfg.Extent.IsValid() || cfg.Extent.Width() <= 0 || cfg.Extent.Height() <= 0 {
		return nil, fmt.Errorf("terrain: invalid map extent %s", cfg.Extent)
	}
	if cfg.SubdivisionThreshold <= 0 {
		cfg.SubdivisionThreshold = DefaultSubdivisionThreshold
	}
	if cfg.MaxSubdivisionLevel <= 0 {
		cfg.MaxSubdivisionLevel = 17
	}
	if cfg.Segments <= 0 {
		cfg.Segments = 32
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	m := &Map{
		Entity3D:   core.NewEntity3D(cfg.ID, core.KindMap),
		cfg:        cfg,
		extent:     cfg.Extent,
		index:      NewTileIndex(),
		geometries: newGeometryCache(),
		nextTileID: 1, // 0 encodes "no tile" in picking buffers
	}
	m.Logger = cfg.Logger
	return m, nil
}

// Extent returns the map extent.
func (m *Map) Extent() geo.Extent { return m.extent }

// Subdivisions returns the root grid, valid after Preprocess.
func (m *Map) Subdivisions() Subdivisions { return m.subdivisions }

// ImageSize returns the per-tile texture budget, valid after Preprocess.
func (m *Map) ImageSize() ImageSize { return m.imageSize }

// Index exposes the tile index (picking, stitching, tests).
func (m *Map) Index() *TileIndex { return m.index }

// Preprocess computes the root grid and creates the root tiles.
func (m *Map) Preprocess(ctx *core.Context) error {
	if m.extent.CRS != ctx.Instance.CRS() {
		return fmt.Errorf("terrain: map extent CRS %q does not match instance %q",
			m.extent.CRS, ctx.Instance.CRS())
	}
	m.instance = ctx.Instance
	m.subdivisions = SelectBestSubdivisions(m.extent)
	m.imageSize = SelectImageSize(m.extent, m.subdivisions, m.cfg.TileSize)

	parts := m.extent.Split(m.subdivisions.X, m.subdivisions.Y)
	for i, part := range parts {
		x := i % m.subdivisions.X
		y := i / m.subdivisions.X
		m.roots = append(m.roots, m.newTile(part, 0, x, y, nil))
	}
	m.preproced = true

	// Layers added before the entity joined the instance initialize now.
	for _, l := range m.layers {
		m.initializeLayer(l)
	}
	return nil
}

func (m *Map) newTile(extent geo.Extent, level, x, y int, parent *TileMesh) *TileMesh {
	t := &TileMesh{
		id:          m.nextTileID,
		level:       level,
		x:           x,
		y:           y,
		extent:      extent,
		parent:      parent,
		material:    NewLayeredMaterial(),
		geometry:    m.geometries.get(m.cfg.Segments),
		textureSize: m.imageSize,
		segments:    m.cfg.Segments,
	}
	m.nextTileID++
	if parent != nil {
		// Children inherit the parent's elevation range until their own
		// data lands.
		t.minmax = parent.minmax
		t.elevationSet = parent.elevationSet
	} else if min, max, ok := m.elevationRange(); ok {
		t.SetElevationRange(min, max)
	}
	t.material.SetLayerOrder(m.layerOrder())
	m.index.Add(t)
	return t
}

// AddLayer registers a layer; duplicate ids are programmer errors. Layer
// order is add order.
func (m *Map) AddLayer(l *layer.Layer) error {
	for _, existing := range m.layers {
		if existing.ID() == l.ID() {
			return fmt.Errorf("terrain: duplicate layer id %q", l.ID())
		}
	}
	m.layers = append(m.layers, l)

	if l.Kind() == layer.KindElevation {
		l.OnMinMaxChanged = func(min, max float64) {
			m.seedElevationRanges(min, max)
		}
	}

	order := m.layerOrder()
	m.forEachTile(func(t *TileMesh) { t.material.SetLayerOrder(order) })
	m.repackAtlas()

	if m.preproced {
		m.initializeLayer(l)
	}
	return nil
}

// RemoveLayer unregisters a layer and releases its paint slots.
func (m *Map) RemoveLayer(id string) {
	for i, l := range m.layers {
		if l.ID() != id {
			continue
		}
		m.layers = append(m.layers[:i], m.layers[i+1:]...)
		m.forEachTile(func(t *TileMesh) {
			l.UnregisterNode(t)
			t.material.RemoveTexture(id)
		})
		m.repackAtlas()
		if m.instance != nil {
			m.instance.NotifyChange(m, true)
		}
		return
	}
}

// Layers returns the layer list in compositing order.
func (m *Map) Layers() []*layer.Layer {
	out := make([]*layer.Layer, len(m.layers))
	copy(out, m.layers)
	return out
}

func (m *Map) layerOrder() []string {
	ids := make([]string, len(m.layers))
	for i, l := range m.layers {
		ids[i] = l.ID()
	}
	return ids
}

// repackAtlas re-packs the color layers incrementally, reusing the previous
// packing as seed.
func (m *Map) repackAtlas() {
	var colors []*layer.Layer
	for _, l := range m.layers {
		if l.Kind() != layer.KindElevation {
			colors = append(colors, l)
		}
	}
	if len(colors) == 0 {
		m.atlas = nil
		return
	}
	size := m.cfg.TileSize
	if m.imageSize.X > 0 {
		size = maxInt(m.imageSize.X, m.imageSize.Y)
	}
	m.atlas = layer.PackAtlas(colors, size, m.atlas)
	m.forEachTile(func(t *TileMesh) { t.material.SetAtlas(m.atlas) })
}

// Atlas returns the current color-layer packing, nil without color layers.
func (m *Map) Atlas() *layer.Atlas { return m.atlas }

func (m *Map) initializeLayer(l *layer.Layer) {
	inst := m.instance
	done := m.Ops.Begin()
	go func() {
		defer done()
		if err := l.Initialize(context.Background()); err != nil {
			m.Log().Error("layer initialization failed", "map", m.ID(), "layer", l.ID(), "error", err)
			return
		}
		inst.Loop().Post(func() {
			if min, max, ok := l.MinMax(); ok && l.Kind() == layer.KindElevation {
				m.seedElevationRanges(min, max)
			}
			m.Events.Publish(core.Event{Kind: core.EventLayerReady, Source: m, Payload: l.ID()})
		})
		inst.NotifyChange(m, true)
	}()
}

// seedElevationRanges widens every tile that has no own elevation data yet,
// so culling works before anything is painted.
func (m *Map) seedElevationRanges(min, max float64) {
	m.forEachTile(func(t *TileMesh) {
		lo, hi := t.ElevationRange()
		if lo == 0 && hi == 0 {
			t.SetElevationRange(min, max)
		}
	})
}

func (m *Map) elevationRange() (float64, float64, bool) {
	for _, l := range m.layers {
		if l.Kind() == layer.KindElevation {
			if min, max, ok := l.MinMax(); ok {
				return min, max, true
			}
		}
	}
	return 0, 0, false
}

func (m *Map) elevationLayers() []*layer.Layer {
	var out []*layer.Layer
	for _, l := range m.layers {
		if l.Kind() == layer.KindElevation {
			out = append(out, l)
		}
	}
	return out
}

// PreUpdate returns the traversal roots: the common ancestor of changed
// tiles when the change set names tiles of this map, the full root list
// otherwise.
func (m *Map) PreUpdate(ctx *core.Context, changes *core.ChangeSet) []core.Node {
	if !changes.All() {
		var tiles []*TileMesh
		for _, src := range changes.Sources() {
			if t, ok := src.(*TileMesh); ok && !t.Disposed() && m.owns(t) {
				tiles = append(tiles, t)
			}
		}
		if len(tiles) > 0 {
			if anc := commonAncestor(tiles); anc != nil {
				return []core.Node{anc}
			}
		}
	}
	out := make([]core.Node, len(m.roots))
	for i, r := range m.roots {
		out[i] = r
	}
	return out
}

func (m *Map) owns(t *TileMesh) bool {
	root := t
	for root.parent != nil {
		root = root.parent
	}
	for _, r := range m.roots {
		if r == root {
			return true
		}
	}
	return false
}

// commonAncestor reduces tiles to their deepest shared ancestor; nil when
// they live under different roots.
func commonAncestor(tiles []*TileMesh) *TileMesh {
	anc := tiles[0]
	for _, t := range tiles[1:] {
		anc = ancestorOf(anc, t)
		if anc == nil {
			return nil
		}
	}
	return anc
}

func ancestorOf(a, b *TileMesh) *TileMesh {
	for a.level > b.level {
		a = a.parent
	}
	for b.level > a.level {
		b = b.parent
	}
	for a != nil && b != nil && a != b {
		a, b = a.parent, b.parent
	}
	return a
}

// Update culls, decides subdivision by SSE, and feeds visible leaves to the
// layers. Returning the children descends; nil prunes.
func (m *Map) Update(ctx *core.Context, node core.Node) []core.Node {
	t, ok := node.(*TileMesh)
	if !ok || t.Disposed() {
		return nil
	}

	if !ctx.View.IsBox3Visible(t.BoundingBox(), nil) {
		t.material.SetVisible(false)
		return nil
	}

	if m.shouldSubdivide(ctx, t) {
		if t.IsLeaf() {
			m.subdivide(t)
		}
		// Children replace the parent.
		t.material.SetVisible(false)
		out := make([]core.Node, 0, 4)
		for _, c := range t.children {
			if c != nil {
				out = append(out, c)
			}
		}
		return out
	}

	// The tile renders itself; collapse any previous subdivision.
	if !t.IsLeaf() {
		m.mergeChildren(t)
	}
	t.material.SetVisible(true)
	for _, l := range m.layers {
		l.Update(ctx, t)
	}
	return nil
}

// shouldSubdivide applies the SSE test, the depth cap, and the elevation
// gating: with elevation layers present, a tile only splits once every
// elevation layer is ready and the tile has elevation data to seed its
// children.
func (m *Map) shouldSubdivide(ctx *core.Context, t *TileMesh) bool {
	if t.level >= m.cfg.MaxSubdivisionLevel {
		return false
	}
	elevations := m.elevationLayers()
	if len(elevations) > 0 {
		for _, l := range elevations {
			if !l.Ready() {
				return false
			}
		}
		if !t.HasElevationData() {
			return false
		}
	}

	sse := core.ComputeSSEFromBox3(ctx.View, t.BoundingBox(), nil, core.SSE2D)
	if sse == nil {
		return false
	}
	metric := math.Max(sse.Lengths.X*sse.Ratio, sse.Lengths.Y*sse.Ratio)
	budget := m.cfg.SubdivisionThreshold * float64(maxInt(m.imageSize.X, m.imageSize.Y))
	return metric >= budget
}

// subdivide creates the 4 children in Morton order: (0,0), (1,0), (0,1),
// (1,1) in child-grid coordinates, i.e. NW, NE, SW, SE.
func (m *Map) subdivide(t *TileMesh) {
	parts := t.extent.Split(2, 2)
	level := t.level + 1
	bx, by := t.x*2, t.y*2
	t.children[0] = m.newTile(parts[0], level, bx, by, t)
	t.children[1] = m.newTile(parts[1], level, bx+1, by, t)
	t.children[2] = m.newTile(parts[2], level, bx, by+1, t)
	t.children[3] = m.newTile(parts[3], level, bx+1, by+1, t)
}

// mergeChildren removes a subdivision whose SSE shrank back below the
// threshold.
func (m *Map) mergeChildren(t *TileMesh) {
	for _, c := range t.children {
		if c != nil {
			m.removeSubtree(c)
		}
	}
	t.children = [4]*TileMesh{}
}

func (m *Map) removeSubtree(t *TileMesh) {
	for _, c := range t.children {
		if c != nil {
			m.removeSubtree(c)
		}
	}
	m.index.Remove(t)
	t.Dispose()
}

// PostUpdate runs layer eviction and the stitching pass.
func (m *Map) PostUpdate(ctx *core.Context) {
	for _, l := range m.layers {
		l.PostUpdate(ctx)
	}
	if m.cfg.TerrainStitching {
		elevationID := ""
		if elevations := m.elevationLayers(); len(elevations) > 0 {
			elevationID = elevations[0].ID()
		}
		m.updateStitching(elevationID)
	}
}

// forEachTile visits every live tile depth-first.
func (m *Map) forEachTile(fn func(*TileMesh)) {
	var walk func(*TileMesh)
	walk = func(t *TileMesh) {
		fn(t)
		for _, c := range t.children {
			if c != nil {
				walk(c)
			}
		}
	}
	for _, r := range m.roots {
		walk(r)
	}
}

// GetElevation samples the painted elevation of the deepest loaded tile
// containing the coordinates.
func (m *Map) GetElevation(c geo.Coordinates) (float64, error) {
	elevations := m.elevationLayers()
	if len(elevations) == 0 {
		return 0, errors.New("terrain: no elevation layer")
	}
	l := elevations[0]

	var best *TileMesh
	m.forEachTile(func(t *TileMesh) {
		if t.Disposed() || !t.extent.Contains(c, 0, nil) {
			return
		}
		if !t.material.HasTexture(l.ID()) {
			return
		}
		if best == nil || t.level > best.level {
			best = t
		}
	})
	if best == nil {
		return 0, errors.New("terrain: no elevation data at coordinates")
	}

	tex, pitch, _ := best.material.Texture(l.ID())
	// Geometric UV, then through the pitch into the paint texture.
	u := (c.X - best.extent.West) / best.extent.Width()
	v := (c.Y - best.extent.South) / best.extent.Height()
	pu := pitch.OffsetX + u*pitch.ScaleX
	pv := pitch.OffsetY + v*pitch.ScaleY

	px := int(pu * float64(tex.Width))
	// Texture rows run north to south.
	py := int((1 - pv) * float64(tex.Height))
	val, mask, _, _ := tex.At(px, py)
	if mask == 0 {
		return 0, errors.New("terrain: nodata at coordinates")
	}
	return val, nil
}

// Loading aggregates the map's own operations and its layers.
func (m *Map) Loading() bool {
	if m.Ops.Loading() {
		return true
	}
	for _, l := range m.layers {
		if l.Loading() {
			return true
		}
	}
	return false
}

// Progress aggregates layer progress.
func (m *Map) Progress() float64 {
	sum := m.Ops.Progress()
	n := 1.0
	for _, l := range m.layers {
		sum += l.Progress()
		n++
	}
	return sum / n
}

// Dispose releases every tile and paint slot.
func (m *Map) Dispose() {
	m.forEachTile(func(t *TileMesh) {
		for _, l := range m.layers {
			l.UnregisterNode(t)
		}
	})
	for _, r := range m.roots {
		m.removeSubtree(r)
	}
	m.roots = nil
}

// OnRenderingContextLost pauses nothing: CPU-side state survives.
func (m *Map) OnRenderingContextLost() {}

// OnRenderingContextRestored forces every layer to repaint from scratch.
func (m *Map) OnRenderingContextRestored() {
	for _, l := range m.layers {
		l.Clear()
	}
	if m.instance != nil {
		m.instance.NotifyChange(m, true)
	}
}
