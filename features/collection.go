package features

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/sched"
)

// subdivisionPixels mirrors the raster pipeline's tile budget: a feature
// tile splits when both projected dimensions exceed this many pixels
// (scaled by SSEScale).
const subdivisionPixels = 384

// cacheTTL keeps per-tile query results warm for quick re-entry.
const cacheTTL = 30 // seconds

// Config configures a FeatureCollection.
type Config struct {
	// ID names the entity; empty generates one.
	ID string
	// Extent is the collection's footprint in the instance CRS. Required.
	Extent geo.Extent
	// Source yields the features. Required.
	Source VectorSource
	// DataProjection is the CRS queries are expressed in; empty uses the
	// instance CRS.
	DataProjection string
	// MinLevel and MaxLevel clamp the pyramid depth; tiles above MinLevel
	// subdivide without fetching.
	MinLevel, MaxLevel int
	// SSEScale scales the subdivision pixel budget; zero means 1.
	SSEScale float64
	// Style is the static style; StyleFn overrides it per feature.
	Style   *Style
	StyleFn StyleFunc

	Logger *slog.Logger
}

// FeatureTile is a pyramid node: a container for the meshes generated from
// its extent's features. No texture, no material; subdivision only drives
// data fetching.
type FeatureTile struct {
	level, x, y int
	extent      geo.Extent
	parent      *FeatureTile
	children    [4]*FeatureTile

	state  layer.UpdateStateMachine
	meshes []*Mesh
	// featureKeys are this tile's entries in the entity-wide dedup set.
	featureKeys []string

	bbox     math3.Box3
	visible  bool
	disposed bool
	cancel   context.CancelFunc
}

// Level returns the pyramid depth.
func (t *FeatureTile) Level() int { return t.level }

// Extent returns the tile extent.
func (t *FeatureTile) Extent() geo.Extent { return t.extent }

// Meshes returns the generated meshes.
func (t *FeatureTile) Meshes() []*Mesh { return t.meshes }

// Visible reports whether the tile is displayed.
func (t *FeatureTile) Visible() bool { return t.visible }

// State exposes the update state machine.
func (t *FeatureTile) State() *layer.UpdateStateMachine { return &t.state }

// BoundingBox returns the tile bounds, expanded around its meshes.
func (t *FeatureTile) BoundingBox() math3.Box3 { return t.bbox }

func (t *FeatureTile) key() string {
	return fmt.Sprintf("%d/%d/%d", t.level, t.x, t.y)
}

// FeatureCollection tiles a vector source into a 2D pyramid and
// materializes features exactly once across tiles.
type FeatureCollection struct {
	core.Entity3D
	cfg Config

	roots     []*FeatureTile
	converter *GeometryConverter

	// seen is the entity-wide dedup set: feature key -> owning tile.
	seen map[string]string

	instance *core.Instance
}

// New creates a feature collection entity.
func New(cfg Config) (*FeatureCollection, error) {
	if !cfg.Extent.IsValid() || cfg.Extent.Width() <= 0 {
		return nil, fmt.Errorf("features: invalid extent %s", cfg.Extent)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("features: nil source")
	}
	if cfg.SSEScale <= 0 {
		cfg.SSEScale = 1
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = 15
	}
	fc := &FeatureCollection{
		Entity3D:  core.NewEntity3D(cfg.ID, core.KindFeatureCollection),
		cfg:       cfg,
		converter: NewGeometryConverter(),
		seen:      make(map[string]string),
	}
	fc.Logger = cfg.Logger
	return fc, nil
}

// Converter exposes the geometry converter (style material cache).
func (fc *FeatureCollection) Converter() *GeometryConverter { return fc.converter }

// Preprocess creates the root tile.
func (fc *FeatureCollection) Preprocess(ctx *core.Context) error {
	if fc.cfg.Extent.CRS != ctx.Instance.CRS() {
		return fmt.Errorf("features: extent CRS %q does not match instance %q",
			fc.cfg.Extent.CRS, ctx.Instance.CRS())
	}
	fc.instance = ctx.Instance
	fc.roots = []*FeatureTile{fc.newTile(fc.cfg.Extent, 0, 0, 0, nil)}
	return nil
}

func (fc *FeatureCollection) newTile(extent geo.Extent, level, x, y int, parent *FeatureTile) *FeatureTile {
	return &FeatureTile{
		level:  level,
		x:      x,
		y:      y,
		extent: extent,
		parent: parent,
		bbox: math3.NewBox3(
			math3.Vec3(extent.West, extent.South, 0),
			math3.Vec3(extent.East, extent.North, 0),
		),
	}
}

// PreUpdate returns the pyramid roots.
func (fc *FeatureCollection) PreUpdate(ctx *core.Context, changes *core.ChangeSet) []core.Node {
	out := make([]core.Node, len(fc.roots))
	for i, r := range fc.roots {
		out[i] = r
	}
	return out
}

// Update culls, subdivides by the 384-pixel rule, and triggers the per-tile
// fetch on leaves.
func (fc *FeatureCollection) Update(ctx *core.Context, node core.Node) []core.Node {
	t, ok := node.(*FeatureTile)
	if !ok || t.disposed {
		return nil
	}

	if !ctx.View.IsBox3Visible(t.bbox, nil) {
		fc.hideSubtree(t)
		return nil
	}
	t.visible = true

	if fc.shouldSubdivide(ctx, t) {
		if t.children[0] == nil {
			fc.subdivide(t)
		}
		out := make([]core.Node, 0, 4)
		for _, c := range t.children {
			if c != nil {
				out = append(out, c)
			}
		}
		return out
	}

	if t.level >= fc.cfg.MinLevel && t.state.CanTryUpdate(ctx.Now) {
		fc.launchFetch(ctx, t)
	}
	return nil
}

// shouldSubdivide requires BOTH screen dimensions to exceed the scaled
// budget, below the depth cap. Tiles above MinLevel always subdivide.
func (fc *FeatureCollection) shouldSubdivide(ctx *core.Context, t *FeatureTile) bool {
	if t.level >= fc.cfg.MaxLevel {
		return false
	}
	if t.level < fc.cfg.MinLevel {
		return true
	}
	sse := core.ComputeSSEFromBox3(ctx.View, t.bbox, nil, core.SSE2D)
	if sse == nil {
		return false
	}
	budget := subdivisionPixels * fc.cfg.SSEScale
	return sse.Lengths.X > budget && sse.Lengths.Y > budget
}

func (fc *FeatureCollection) subdivide(t *FeatureTile) {
	parts := t.extent.Split(2, 2)
	level := t.level + 1
	bx, by := t.x*2, t.y*2
	t.children[0] = fc.newTile(parts[0], level, bx, by, t)
	t.children[1] = fc.newTile(parts[1], level, bx+1, by, t)
	t.children[2] = fc.newTile(parts[2], level, bx, by+1, t)
	t.children[3] = fc.newTile(parts[3], level, bx+1, by+1, t)
}

func (fc *FeatureCollection) hideSubtree(t *FeatureTile) {
	t.visible = false
	if t.state.State() == layer.UpdatePending && t.cancel != nil {
		t.cancel()
	}
	for _, c := range t.children {
		if c != nil {
			fc.hideSubtree(c)
		}
	}
}

// launchFetch queries the vector source for the tile's extent, honoring the
// per-tile cache.
func (fc *FeatureCollection) launchFetch(ctx *core.Context, t *FeatureTile) {
	cacheKey := fmt.Sprintf("features/%s/%s", fc.ID(), t.key())
	if cached, ok := ctx.Cache.Get(cacheKey); ok {
		t.state.NewTry()
		fc.applyFeatures(ctx, t, cached.([]*Feature))
		return
	}

	t.state.NewTry()
	fctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	queryExtent := t.extent
	dataCRS := fc.cfg.DataProjection
	if dataCRS != "" && dataCRS != t.extent.CRS {
		reproj, err := t.extent.As(dataCRS, ctx.CRS)
		if err != nil {
			fc.Log().Error("feature tile reprojection failed", "tile", t.key(), "error", err)
			t.state.Failure(ctx.Now, true)
			return
		}
		queryExtent = reproj
	} else {
		dataCRS = t.extent.CRS
	}
	resolution := queryExtent.Width() / subdivisionPixels

	loop := ctx.Instance.Loop()
	done := fc.Ops.Begin()
	task := ctx.Queue.Enqueue(sched.Op{
		ID:       cacheKey,
		Priority: ctx.Priority(),
		Ctx:      fctx,
		ShouldExecute: func() bool {
			return t.visible && !t.disposed
		},
		Request: func(rctx context.Context) (any, error) {
			return fc.cfg.Source.Load(rctx, queryExtent, resolution, dataCRS)
		},
	})

	go func() {
		v, err := task.Wait(context.Background())
		loop.Post(func() {
			defer done()
			if t.disposed {
				return
			}
			if err != nil {
				if isCancellation(err) {
					t.state.Abort()
					return
				}
				fc.Log().Warn("feature query failed", "tile", t.key(), "error", err)
				t.state.Failure(ctx.Now, true)
				return
			}
			feats := v.([]*Feature)
			ctx.Cache.Set(cacheKey, feats, cacheOptions())
			fc.applyFeatures(ctx, t, feats)
		})
	}()
}

// applyFeatures deduplicates, converts and attaches the tile's features.
// A reloading tile drops its previous content first.
func (fc *FeatureCollection) applyFeatures(ctx *core.Context, t *FeatureTile, feats []*Feature) {
	if len(t.meshes) > 0 {
		for _, key := range t.featureKeys {
			delete(fc.seen, key)
		}
		t.featureKeys = nil
		for _, m := range t.meshes {
			m.Dispose()
		}
		t.meshes = nil
	}
	for _, f := range feats {
		key := featureKey(f)
		if owner, dup := fc.seen[key]; dup && owner != t.key() {
			// First-seen wins across tiles.
			continue
		}
		fc.seen[key] = t.key()
		t.featureKeys = append(t.featureKeys, key)
		f.setID(key)

		style := fc.styleFor(f)
		meshes := fc.converter.Convert(f, style)
		t.meshes = append(t.meshes, meshes...)
		for _, m := range meshes {
			t.bbox = t.bbox.Union(m.BoundingBox())
		}
	}
	t.state.Success()
	ctx.Instance.NotifyChange(fc, true)
}

func (fc *FeatureCollection) styleFor(f *Feature) Style {
	if fc.cfg.StyleFn != nil {
		return fc.cfg.StyleFn(f)
	}
	if fc.cfg.Style != nil {
		return *fc.cfg.Style
	}
	return DefaultStyle()
}

// PostUpdate has no per-frame bookkeeping; eviction is TTL driven.
func (fc *FeatureCollection) PostUpdate(ctx *core.Context) {}

// DedupSize returns the number of entries in the entity-wide dedup set.
func (fc *FeatureCollection) DedupSize() int { return len(fc.seen) }

// ForEachTile visits the pyramid depth-first.
func (fc *FeatureCollection) ForEachTile(fn func(*FeatureTile)) {
	var walk func(*FeatureTile)
	walk = func(t *FeatureTile) {
		fn(t)
		for _, c := range t.children {
			if c != nil {
				walk(c)
			}
		}
	}
	for _, r := range fc.roots {
		walk(r)
	}
}

// Dispose releases every tile and its meshes.
func (fc *FeatureCollection) Dispose() {
	fc.ForEachTile(func(t *FeatureTile) {
		fc.disposeTile(t)
	})
	fc.roots = nil
	fc.seen = make(map[string]string)
}

func (fc *FeatureCollection) disposeTile(t *FeatureTile) {
	if t.disposed {
		return
	}
	t.disposed = true
	if t.cancel != nil {
		t.cancel()
	}
	for _, key := range t.featureKeys {
		delete(fc.seen, key)
	}
	t.featureKeys = nil
	for _, m := range t.meshes {
		m.Dispose()
	}
	t.meshes = nil
}

// OnRenderingContextLost has nothing to pause: meshes are CPU-side.
func (fc *FeatureCollection) OnRenderingContextLost() {}

// OnRenderingContextRestored re-uploads happen driver-side; nothing to do.
func (fc *FeatureCollection) OnRenderingContextRestored() {}

// featureKey derives the synthetic stable id from the geometry, so the same
// feature returned by neighbouring tile queries deduplicates.
func featureKey(f *Feature) string {
	h := fnv.New64a()
	writePoint := func(p orb.Point) {
		var buf [16]byte
		putFloat(buf[:8], p[0])
		putFloat(buf[8:], p[1])
		h.Write(buf[:])
	}
	switch geom := f.Geometry.(type) {
	case orb.Point:
		writePoint(geom)
	case orb.MultiPoint:
		for _, p := range geom {
			writePoint(p)
		}
	case orb.LineString:
		for _, p := range geom {
			writePoint(p)
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			for _, p := range ls {
				writePoint(p)
			}
		}
	case orb.Polygon:
		for _, ring := range geom {
			for _, p := range ring {
				writePoint(p)
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				for _, p := range ring {
					writePoint(p)
				}
			}
		}
	}
	return fmt.Sprintf("f%016x", h.Sum64())
}

func putFloat(dst []byte, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		dst[i] = byte(bits >> (8 * i))
	}
}
