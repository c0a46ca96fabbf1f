package tiles3d

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/sched"
)

// Fetcher retrieves tileset and tile payload bytes by reference.
type Fetcher func(ctx context.Context, ref string) ([]byte, error)

// ContentState is the payload lifecycle of one tile.
type ContentState int

const (
	ContentUnloaded ContentState = iota
	ContentLoading
	ContentReady
	ContentFailed
)

// node wraps a Tile with the engine's runtime state.
type node struct {
	tile   *Tile
	parent *node
	// children materialize lazily, including nested-tileset expansion.
	children []*node
	refine   Refine
	baseRef  string

	state   ContentState
	payload []byte
	kind    ContentKind
	// visible marks frustum visibility; visibleContent whether the
	// refinement decision draws this tile's content.
	visible        bool
	visibleContent bool
	cancel         context.CancelFunc
}

func (n *node) box() (math3.Box3, bool) {
	return n.tile.BoundingVolume.AABB()
}

// Config configures a Tiles3D entity.
type Config struct {
	// ID names the entity; empty generates one.
	ID string
	// URL is the root tileset reference. Required.
	URL string
	// Fetch retrieves payloads. Required.
	Fetch Fetcher
	// SSEThreshold is the screen-space-error budget in pixels; a tile
	// refines while its projected error exceeds it. Zero means 16.
	SSEThreshold float64

	Logger *slog.Logger
}

// Tiles3D streams an externally defined tile hierarchy with additive or
// replacement refinement.
type Tiles3D struct {
	core.Entity3D
	cfg Config

	tileset  *Tileset
	root     *node
	instance *core.Instance
}

// New creates a Tiles3D entity.
func New(cfg Config) (*Tiles3D, error) {
	if cfg.URL == "" {
		return nil, errors.New("tiles3d: empty tileset URL")
	}
	if cfg.Fetch == nil {
		return nil, errors.New("tiles3d: nil fetcher")
	}
	if cfg.SSEThreshold <= 0 {
		cfg.SSEThreshold = 16
	}
	e := &Tiles3D{
		Entity3D: core.NewEntity3D(cfg.ID, core.KindTiles3D),
		cfg:      cfg,
	}
	e.Logger = cfg.Logger
	return e, nil
}

// Tileset returns the parsed root document, valid after Preprocess.
func (e *Tiles3D) Tileset() *Tileset { return e.tileset }

// Preprocess fetches and parses the root tileset. A missing or invalid
// root is a definitive error.
func (e *Tiles3D) Preprocess(ctx *core.Context) error {
	e.instance = ctx.Instance

	data, err := e.cfg.Fetch(context.Background(), e.cfg.URL)
	if err != nil {
		return fmt.Errorf("tiles3d: fetch root tileset: %w", err)
	}
	ts, err := ParseTileset(data)
	if err != nil {
		return err
	}
	e.tileset = ts
	e.root = &node{
		tile:    ts.Root,
		refine:  ts.Root.Refine(RefineReplace),
		baseRef: e.cfg.URL,
	}
	return nil
}

// PreUpdate starts from the hierarchy root.
func (e *Tiles3D) PreUpdate(ctx *core.Context, changes *core.ChangeSet) []core.Node {
	if e.root == nil {
		return nil
	}
	return []core.Node{e.root}
}

// Update culls, refines by screen-space error, and requests content.
// With REPLACE refinement the parent stays visible until every refined
// child's content is ready; with ADD both render.
func (e *Tiles3D) Update(ctx *core.Context, n core.Node) []core.Node {
	nd, ok := n.(*node)
	if !ok {
		return nil
	}

	box, hasBox := nd.box()
	if hasBox && !ctx.View.IsBox3Visible(box, nil) {
		e.hideSubtree(nd)
		return nil
	}
	nd.visible = true

	refining := e.screenSpaceError(ctx, nd) > e.cfg.SSEThreshold && e.ensureChildren(nd)

	if nd.tile.Content != nil && nd.state == ContentUnloaded {
		e.requestContent(ctx, nd)
	}

	if !refining {
		e.setContentVisible(nd, true)
		return nil
	}

	children := make([]core.Node, len(nd.children))
	allReady := true
	for i, c := range nd.children {
		children[i] = c
		if c.tile.Content != nil && c.state != ContentReady {
			allReady = false
		}
	}

	switch nd.refine {
	case RefineAdd:
		// Children complement the parent.
		e.setContentVisible(nd, true)
	default:
		// Children substitute the parent, once they can.
		e.setContentVisible(nd, !allReady)
	}
	return children
}

// screenSpaceError projects the tile's geometric error at its distance.
func (e *Tiles3D) screenSpaceError(ctx *core.Context, nd *node) float64 {
	ge := nd.tile.GeometricError
	if ge <= 0 {
		return 0
	}
	box, ok := nd.box()
	if !ok {
		return math.Inf(1)
	}
	dist := ctx.View.Camera.Position().DistanceTo(box.Center())
	if dist <= 0 {
		return math.Inf(1)
	}
	return ctx.View.PreSSE() * ge / dist
}

// ensureChildren materializes the runtime children. Returns false for
// leaves.
func (e *Tiles3D) ensureChildren(nd *node) bool {
	if nd.children != nil {
		return len(nd.children) > 0
	}
	nd.children = make([]*node, 0, len(nd.tile.Children))
	for _, child := range nd.tile.Children {
		nd.children = append(nd.children, &node{
			tile:    child,
			parent:  nd,
			refine:  child.Refine(nd.refine),
			baseRef: nd.baseRef,
		})
	}
	return len(nd.children) > 0
}

// requestContent fetches a tile's payload; nested tilesets splice their
// root in place of the tile's children.
func (e *Tiles3D) requestContent(ctx *core.Context, nd *node) {
	ref := resolveRef(nd.baseRef, nd.tile.Content.Ref())
	if ref == "" {
		nd.state = ContentFailed
		return
	}
	nd.state = ContentLoading
	fctx, cancel := context.WithCancel(context.Background())
	nd.cancel = cancel

	loop := ctx.Instance.Loop()
	done := e.Ops.Begin()
	task := ctx.Queue.Enqueue(sched.Op{
		ID:       "tiles3d/" + e.ID() + "/" + ref,
		Priority: ctx.Priority(),
		Ctx:      fctx,
		ShouldExecute: func() bool {
			return nd.visible && nd.state == ContentLoading
		},
		Request: func(rctx context.Context) (any, error) {
			return e.cfg.Fetch(rctx, ref)
		},
	})

	go func() {
		v, err := task.Wait(context.Background())
		loop.Post(func() {
			defer done()
			if nd.state != ContentLoading {
				return
			}
			if err != nil {
				if isCancellation(err) {
					nd.state = ContentUnloaded
					return
				}
				e.Log().Warn("tile content fetch failed", "ref", ref, "error", err)
				nd.state = ContentFailed
				return
			}
			e.mountContent(nd, ref, v.([]byte))
			ctx.Instance.NotifyChange(e, true)
		})
	}()
}

func (e *Tiles3D) mountContent(nd *node, ref string, data []byte) {
	kind := ClassifyContent(data)
	if kind == ContentTileset {
		ts, err := ParseTileset(data)
		if err != nil {
			e.Log().Warn("nested tileset rejected", "ref", ref, "error", err)
			nd.state = ContentFailed
			return
		}
		// The nested root replaces this tile's children.
		nd.children = []*node{{
			tile:    ts.Root,
			parent:  nd,
			refine:  ts.Root.Refine(nd.refine),
			baseRef: ref,
		}}
		nd.state = ContentReady
		nd.kind = kind
		return
	}
	nd.payload = data
	nd.kind = kind
	nd.state = ContentReady
}

func (e *Tiles3D) hideSubtree(nd *node) {
	nd.visible = false
	e.setContentVisible(nd, false)
	if nd.state == ContentLoading && nd.cancel != nil {
		nd.cancel()
		nd.state = ContentUnloaded
	}
	for _, c := range nd.children {
		e.hideSubtree(c)
	}
}

func (e *Tiles3D) setContentVisible(nd *node, v bool) {
	nd.visibleContent = v
}

// PostUpdate has no per-frame bookkeeping.
func (e *Tiles3D) PostUpdate(ctx *core.Context) {}

// ForEachReadyContent visits every loaded payload, for the renderer and
// tests.
func (e *Tiles3D) ForEachReadyContent(fn func(kind ContentKind, payload []byte, visible bool)) {
	var walk func(*node)
	walk = func(nd *node) {
		if nd.state == ContentReady && nd.payload != nil {
			fn(nd.kind, nd.payload, nd.visibleContent)
		}
		for _, c := range nd.children {
			walk(c)
		}
	}
	if e.root != nil {
		walk(e.root)
	}
}

// Dispose aborts fetches and drops payloads.
func (e *Tiles3D) Dispose() {
	var walk func(*node)
	walk = func(nd *node) {
		if nd.cancel != nil {
			nd.cancel()
		}
		nd.payload = nil
		for _, c := range nd.children {
			walk(c)
		}
	}
	if e.root != nil {
		walk(e.root)
	}
	e.root = nil
}

// OnRenderingContextLost has nothing to pause.
func (e *Tiles3D) OnRenderingContextLost() {}

// OnRenderingContextRestored re-uploads happen driver-side.
func (e *Tiles3D) OnRenderingContextRestored() {}

// resolveRef resolves a possibly relative content reference against the
// document that declared it.
func resolveRef(base, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.Contains(ref, "://") {
		return ref
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sched.ErrSkipped)
}
