package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
	"github.com/MeKo-Tech/terrastream/sched"
	"github.com/MeKo-Tech/terrastream/source"
)

// Kind tags the layer families.
type Kind int

const (
	KindColor Kind = iota
	KindElevation
	KindMask
)

func (k Kind) String() string {
	switch k {
	case KindElevation:
		return "elevation"
	case KindMask:
		return "mask"
	}
	return "color"
}

// MaskMode selects how a mask layer's texture is interpreted.
type MaskMode int

const (
	// MaskAlpha keeps texels where the mask is opaque.
	MaskAlpha MaskMode = iota
	// MaskAlphaInverted keeps texels where the mask is transparent.
	MaskAlphaInverted
)

// Default paint margins: each node's paint extent is enlarged by 5% plus
// 4 px per side to kill seam artifacts between neighbouring tiles.
const (
	DefaultMarginRatio  = 0.05
	DefaultMarginPixels = 4
)

// preloadSize is the resolution of the low-res fallback imagery fetched at
// initialization for asynchronous sources.
const preloadSize = 256

// Config configures a layer.
type Config struct {
	// ID must be unique within the host entity. Required.
	ID string
	// Source produces the imagery. Required.
	Source source.Source
	// Extent optionally clips the layer, expressed in the source's CRS;
	// zero means the source extent.
	Extent geo.Extent
	// ResolutionFactor scales the paint resolution relative to the node's
	// texture size; zero means 1.
	ResolutionFactor float64
	// MarginRatio and MarginPixels override the paint margins; negative
	// ratio disables the margin entirely.
	MarginRatio  float64
	MarginPixels int
	// MinMax seeds the elevation range; nil derives it from preloaded
	// imagery.
	MinMax *[2]float64
	// Mode applies to mask layers.
	Mode MaskMode

	Logger *slog.Logger
}

// Layer paints one texture per node. Four operations plus events:
// Initialize, Update (idempotent, per visible node per frame), PostUpdate
// (eviction), and UnregisterNode.
type Layer struct {
	id   string
	kind Kind
	src  source.Source
	cfg  Config

	composer *Composer
	targets  map[string]*Target

	ready atomic.Bool

	// minmax is the refined global elevation range.
	minmax    [2]float64
	hasMinMax bool
	// OnMinMaxChanged fires when new elevation data widens the range.
	OnMinMaxChanged func(min, max float64)

	ops    *core.ProgressTracker
	pool   *render.TargetPool
	logger *slog.Logger
}

// New creates a layer; programmer errors (missing id or source) are
// rejected here.
func New(kind Kind, cfg Config) (*Layer, error) {
	if cfg.ID == "" {
		return nil, errors.New("layer: empty id")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("layer %q: nil source", cfg.ID)
	}
	if cfg.ResolutionFactor <= 0 {
		cfg.ResolutionFactor = 1
	}
	if cfg.MarginRatio == 0 {
		cfg.MarginRatio = DefaultMarginRatio
	}
	if cfg.MarginPixels == 0 {
		cfg.MarginPixels = DefaultMarginPixels
	}
	l := &Layer{
		id:       cfg.ID,
		kind:     kind,
		src:      cfg.Source,
		cfg:      cfg,
		composer: NewComposer(),
		targets:  make(map[string]*Target),
		ops:      core.NewProgressTracker(),
		logger:   cfg.Logger,
	}
	if cfg.MinMax != nil {
		l.minmax = *cfg.MinMax
		l.hasMinMax = true
	}
	return l, nil
}

// NewColor creates a color layer.
func NewColor(cfg Config) (*Layer, error) { return New(KindColor, cfg) }

// NewElevation creates an elevation layer.
func NewElevation(cfg Config) (*Layer, error) { return New(KindElevation, cfg) }

// NewMask creates a mask layer. Mask targets are never evicted per-node:
// masking must stay defined over the whole surface.
func NewMask(cfg Config) (*Layer, error) { return New(KindMask, cfg) }

func (l *Layer) ID() string            { return l.id }
func (l *Layer) Kind() Kind            { return l.kind }
func (l *Layer) Source() source.Source { return l.src }
func (l *Layer) Ready() bool           { return l.ready.Load() }
func (l *Layer) Composer() *Composer   { return l.composer }
func (l *Layer) Loading() bool         { return l.ops.Loading() }
func (l *Layer) Progress() float64     { return l.ops.Progress() }

// MaskMode returns how a mask layer's texture is interpreted.
func (l *Layer) MaskMode() MaskMode { return l.cfg.Mode }

// MinMax returns the layer's global elevation range.
func (l *Layer) MinMax() (min, max float64, ok bool) {
	return l.minmax[0], l.minmax[1], l.hasMinMax
}

// RenderTargetPixelFormat returns the target format for this layer kind.
func (l *Layer) RenderTargetPixelFormat() render.PixelFormat {
	if l.kind == KindElevation {
		return render.FormatRG
	}
	return render.FormatRGBA
}

// RenderTargetDataType returns the target data type for this layer kind.
func (l *Layer) RenderTargetDataType() render.DataType {
	if l.kind == KindElevation {
		return render.TypeFloat32
	}
	return render.TypeUnsignedByte
}

// Initialize prepares the source and, for asynchronous sources, preloads
// low-resolution fallback imagery so nodes have something to show from the
// first frames. Elevation layers without a configured minmax derive it from
// the preload.
func (l *Layer) Initialize(ctx context.Context) error {
	done := l.ops.Begin()
	defer done()

	if err := l.src.Initialize(ctx); err != nil {
		return fmt.Errorf("layer %q: initialize source: %w", l.id, err)
	}

	if ep, ok := l.src.(source.ElevationProvider); ok && !l.hasMinMax {
		if min, max, known := ep.MinMax(); known {
			l.minmax = [2]float64{min, max}
			l.hasMinMax = true
		}
	}

	if !l.src.Synchronous() {
		l.preloadFallback(ctx)
	}
	if l.kind == KindElevation && !l.hasMinMax {
		if min, max, found := l.composer.MinMax(l.src.Extent()); found {
			l.minmax = [2]float64{min, max}
			l.hasMinMax = true
		}
	}

	l.ready.Store(true)
	return nil
}

func (l *Layer) preloadFallback(ctx context.Context) {
	ext := l.src.Extent()
	w, h := preloadSize, preloadSize
	if ext.Width() > 0 && ext.Height() > 0 {
		if ratio := ext.Height() / ext.Width(); ratio < 1 {
			h = int(math.Max(1, float64(preloadSize)*ratio))
		} else if ratio > 1 {
			w = int(math.Max(1, float64(preloadSize)/ratio))
		}
	}
	for _, req := range l.src.GetImages(ext, w, h) {
		img, err := req.Fetch(ctx)
		if err != nil {
			if !isCancellation(err) {
				l.log().Warn("fallback preload failed", "layer", l.id, "image", req.ID, "error", err)
			}
			continue
		}
		img.AlwaysVisible = true
		l.composer.Add(img, true)
	}
}

// Extent returns the layer's clip extent, defaulting to the source extent.
func (l *Layer) Extent() geo.Extent {
	if l.cfg.Extent.IsValid() && l.cfg.Extent.Width() > 0 {
		return l.cfg.Extent
	}
	return l.src.Extent()
}

// Update runs the per-node paint lifecycle. Idempotent; called every frame
// for every visible node of the host.
func (l *Layer) Update(ctx *core.Context, node Node) {
	if !l.ready.Load() {
		return
	}

	t, ok := l.targets[node.NodeID()]
	if !ok {
		t = l.createTarget(ctx, node)
	}

	if !node.NodeVisible() {
		if t.state != TargetComplete {
			t.Reset()
		}
		return
	}

	if t.state == TargetPending {
		l.processTarget(ctx, t)
	}
}

func (l *Layer) createTarget(ctx *core.Context, node Node) *Target {
	geom := node.NodeExtent()
	texSize := l.paintSize(ctx, geom)

	paint := geom
	if l.cfg.MarginRatio > 0 {
		paint = geom.WithRelativeMargin(l.cfg.MarginRatio)
		if l.cfg.MarginPixels > 0 && texSize > 0 {
			perPixelX := paint.Width() / float64(texSize)
			perPixelY := paint.Height() / float64(texSize)
			paint = paint.WithMargin(perPixelX*float64(l.cfg.MarginPixels), perPixelY*float64(l.cfg.MarginPixels))
		}
	}

	t := &Target{
		node:           node,
		geometryExtent: geom,
		extent:         paint,
		pitch:          geom.OffsetToParent(paint),
		width:          texSize,
		height:         texSize,
		state:          TargetPending,
	}
	t.newGeneration()

	loop := ctx.Instance.Loop()
	t.unsubscribe = node.OnDispose(func() {
		loop.Post(func() { l.UnregisterNode(node) })
	})

	l.targets[node.NodeID()] = t
	return t
}

// paintSize returns the texture edge length: a fixed 256 px base scaled by
// the resolution factor, at least 2. The node extent is not consulted.
func (l *Layer) paintSize(ctx *core.Context, geom geo.Extent) int {
	base := 256.0
	size := int(math.Ceil(base * l.cfg.ResolutionFactor))
	if size < 2 {
		size = 2
	}
	return size
}

// processTarget drives one paint: resolve coverage, acquire the render
// target, paint a fallback, fetch, composite.
func (l *Layer) processTarget(ctx *core.Context, t *Target) {
	// Paint extent in the source's CRS.
	paintSrc, err := t.extent.As(l.src.CRS(), ctx.CRS)
	if err != nil {
		l.log().Error("paint extent reprojection failed", "layer", l.id, "error", err)
		t.state = TargetComplete
		return
	}

	coverage := l.Extent()
	if !paintSrc.Intersects(coverage) {
		// Nothing to paint: complete with the empty texture, without
		// acquiring a render target.
		t.state = TargetComplete
		t.node.ApplyTexture(l.id, render.EmptyTexture(), t.pitch, true)
		return
	}

	if t.rt == nil {
		l.pool = ctx.Targets
		t.rt = ctx.Targets.Acquire(render.Spec{
			Width:  t.width,
			Height: t.height,
			Format: l.RenderTargetPixelFormat(),
			Type:   l.RenderTargetDataType(),
		})
	}

	requests := l.src.GetImages(paintSrc, t.width, t.height)
	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	t.imageIDs = ids

	if l.src.Synchronous() {
		l.fetchInline(ctx, t, paintSrc, requests)
		return
	}

	// Fallback first: show coarse preloaded data while fetches run.
	if t.paintCount == 0 {
		res := l.composer.Render(RenderOptions{
			Extent:         paintSrc,
			Width:          t.width,
			Height:         t.height,
			Target:         t.rt,
			IsFallbackMode: true,
		})
		if res.Drawn > 0 {
			t.paintCount++
			t.node.ApplyTexture(l.id, t.rt.Texture, t.pitch, false)
		}
	}

	t.state = TargetProcessing
	t.newGeneration()
	l.fetchAsync(ctx, t, paintSrc, requests)
}

func (l *Layer) fetchInline(ctx *core.Context, t *Target, paintSrc geo.Extent, requests []source.Request) {
	nodeID := t.node.NodeID()
	for _, req := range requests {
		if !l.composer.Has(req.ID) {
			img, err := req.Fetch(t.ctx)
			if err != nil {
				if !isCancellation(err) {
					l.log().Warn("synchronous fetch failed", "layer", l.id, "image", req.ID, "error", err)
				}
				continue
			}
			l.composer.Add(img, img.AlwaysVisible)
		}
		l.composer.Lock(req.ID, nodeID)
	}
	l.finishPaint(ctx, t, paintSrc)
}

func (l *Layer) fetchAsync(ctx *core.Context, t *Target, paintSrc geo.Extent, requests []source.Request) {
	node := t.node
	nodeID := node.NodeID()
	gen := t.generation
	loop := ctx.Instance.Loop()

	type fetched struct {
		id  string
		img *source.Image
	}

	var tasks []*sched.Task
	for _, req := range requests {
		if l.composer.Has(req.ID) {
			l.composer.Lock(req.ID, nodeID)
			continue
		}
		req := req
		fetch := req.Fetch
		tasks = append(tasks, ctx.Queue.Enqueue(sched.Op{
			ID:       req.ID,
			Priority: ctx.Priority(),
			Ctx:      t.ctx,
			ShouldExecute: func() bool {
				return node.NodeVisible() && !l.composer.Has(req.ID)
			},
			Request: func(rctx context.Context) (any, error) {
				img, err := fetch(rctx)
				if err != nil {
					return nil, err
				}
				return fetched{id: req.ID, img: img}, nil
			},
		}))
	}

	done := l.ops.Begin()
	go func() {
		results := make([]fetched, 0, len(tasks))
		for _, task := range tasks {
			v, err := task.Wait(context.Background())
			if err != nil {
				if !isCancellation(err) && !errors.Is(err, source.ErrTileNotFound) {
					l.log().Warn("tile fetch failed", "layer", l.id, "error", err)
				}
				continue
			}
			results = append(results, v.(fetched))
		}
		loop.Post(func() {
			defer done()
			if t.generation != gen {
				// A reset or dispose superseded this paint.
				return
			}
			for _, r := range results {
				l.composer.Add(r.img, r.img.AlwaysVisible)
				l.composer.Lock(r.id, nodeID)
			}
			l.finishPaint(ctx, t, paintSrc)
		})
	}()
}

// finishPaint composites the target's images and delivers the texture.
func (l *Layer) finishPaint(ctx *core.Context, t *Target, paintSrc geo.Extent) {
	res := l.composer.Render(RenderOptions{
		Extent:   paintSrc,
		Width:    t.width,
		Height:   t.height,
		Target:   t.rt,
		ImageIDs: t.imageIDs,
	})
	t.paintCount++
	t.node.ApplyTexture(l.id, t.rt.Texture, t.pitch, res.IsLastRender)

	if l.kind == KindElevation {
		l.refineMinMax(paintSrc)
	}

	if res.IsLastRender {
		t.state = TargetComplete
	} else {
		// More data is needed; re-composite on a later frame.
		t.state = TargetPending
		ctx.Instance.NotifyChange(l, true)
	}
}

func (l *Layer) refineMinMax(extent geo.Extent) {
	min, max, found := l.composer.MinMax(extent)
	if !found {
		return
	}
	changed := false
	if !l.hasMinMax {
		l.minmax = [2]float64{min, max}
		l.hasMinMax = true
		changed = true
	} else {
		if min < l.minmax[0] {
			l.minmax[0] = min
			changed = true
		}
		if max > l.minmax[1] {
			l.minmax[1] = max
			changed = true
		}
	}
	if changed && l.OnMinMaxChanged != nil {
		l.OnMinMaxChanged(l.minmax[0], l.minmax[1])
	}
}

// PostUpdate runs per-frame bookkeeping: abort paints of nodes that went
// invisible, evict stale targets, drop unreferenced composer images.
func (l *Layer) PostUpdate(ctx *core.Context) {
	for _, t := range l.targets {
		if !t.node.NodeVisible() && t.state != TargetComplete {
			t.Reset()
		}
	}
	l.deleteUnusedTargets(ctx)
	l.composer.Evict()
}

// deleteUnusedTargets evicts targets of invisible tiles, smallest extent
// (highest LOD) first. Root tiles, every third level, tiles without a
// loaded ancestor, and mask layers are kept: they serve as fallback data or
// must remain defined everywhere.
func (l *Layer) deleteUnusedTargets(ctx *core.Context) {
	if l.kind == KindMask {
		return
	}
	var victims []*Target
	for _, t := range l.targets {
		node := t.node
		if node.NodeVisible() {
			continue
		}
		level := node.TileLevel()
		if level == 0 || level%3 == 0 {
			continue
		}
		if !l.hasLoadedAncestor(node) {
			continue
		}
		victims = append(victims, t)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].extent.Width() < victims[j].extent.Width()
	})
	for _, t := range victims {
		l.UnregisterNode(t.node)
	}
}

func (l *Layer) hasLoadedAncestor(node Node) bool {
	for p := node.ParentNode(); p != nil; p = p.ParentNode() {
		if t, ok := l.targets[p.NodeID()]; ok && t.paintCount > 0 {
			return true
		}
	}
	return false
}

// UnregisterNode releases the node's paint slot: aborts fetches, unlocks
// composer images, returns the render target to the pool.
func (l *Layer) UnregisterNode(node Node) {
	t, ok := l.targets[node.NodeID()]
	if !ok {
		return
	}
	delete(l.targets, node.NodeID())
	l.composer.Unlock(t.imageIDs, node.NodeID())
	t.dispose(l.poolOf())
}

// Clear aborts and restarts every paint from scratch; used after GPU
// context restoration and when the source signals an extent update.
func (l *Layer) Clear() {
	for _, t := range l.targets {
		t.ForceRepaint()
		t.newGeneration()
	}
}

// TargetCount returns the number of live paint slots.
func (l *Layer) TargetCount() int { return len(l.targets) }

// TargetFor returns the paint slot of a node, nil when absent.
func (l *Layer) TargetFor(node Node) *Target {
	return l.targets[node.NodeID()]
}

// poolOf returns the instance pool targets were acquired from; before any
// acquisition there is nothing to release, so a throwaway pool is fine.
func (l *Layer) poolOf() *render.TargetPool {
	if l.pool == nil {
		l.pool = render.NewTargetPool(0)
	}
	return l.pool
}

func (l *Layer) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}
