package pointcloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/sched"
)

// ColoringMode selects how points are colored.
type ColoringMode int

const (
	// ColorByAttribute shades by the active attribute.
	ColorByAttribute ColoringMode = iota
	// ColorByLayer paints a raster layer over the cloud and samples it per
	// point.
	ColorByLayer
)

// Defaults of the hysteresis and traversal tuning.
const (
	DefaultCleanupDelay         = 5 * time.Second
	DefaultPollInterval         = 1 * time.Second
	DefaultSubdivisionThreshold = 1.0
	DefaultPointSize            = 2.0
)

// Config configures a PointCloud entity.
type Config struct {
	// ID names the entity; empty generates one.
	ID string
	// Source streams the data. Required.
	Source Source
	// SubdivisionThreshold tunes traversal depth; zero uses the default.
	SubdivisionThreshold float64
	// PointSize is the on-screen point size in pixels.
	PointSize float64
	// PointBudget caps the total displayed points; zero disables the
	// budget (decimation stays user-controlled).
	PointBudget int
	// CleanupDelay is the hidden -> empty hysteresis; zero uses 5 s.
	CleanupDelay time.Duration
	// PollInterval is the hysteresis polling period; zero uses 1 s.
	PollInterval time.Duration
	// Mode selects attribute or layer coloring.
	Mode ColoringMode
	// ActiveAttribute is the initially active attribute name.
	ActiveAttribute string
	// Decimation is the user-controlled value applied without a budget.
	Decimation int

	Logger *slog.Logger
}

// PointCloud streams a hierarchical point cloud, one state machine per
// source node.
type PointCloud struct {
	core.Entity3D
	cfg Config

	src      Source
	root     SourceNode
	metadata Metadata

	infos map[string]*NodeInfo

	activeAttribute string
	decimation      int
	lastPoll        time.Time

	overlay  *layer.Layer
	instance *core.Instance
}

// New creates a point cloud entity.
func New(cfg Config) (*PointCloud, error) {
	if cfg.Source == nil {
		return nil, errors.New("pointcloud: nil source")
	}
	if cfg.SubdivisionThreshold <= 0 {
		cfg.SubdivisionThreshold = DefaultSubdivisionThreshold
	}
	if cfg.PointSize <= 0 {
		cfg.PointSize = DefaultPointSize
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = DefaultCleanupDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Decimation < 1 {
		cfg.Decimation = 1
	}
	pc := &PointCloud{
		Entity3D:        core.NewEntity3D(cfg.ID, core.KindPointCloud),
		cfg:             cfg,
		src:             cfg.Source,
		infos:           make(map[string]*NodeInfo),
		activeAttribute: cfg.ActiveAttribute,
		decimation:      cfg.Decimation,
	}
	pc.Logger = cfg.Logger
	return pc, nil
}

// SetColorLayer installs the raster layer of the 'layer' coloring mode.
func (pc *PointCloud) SetColorLayer(l *layer.Layer) {
	pc.overlay = l
	pc.cfg.Mode = ColorByLayer
}

// Metadata returns the source metadata, valid after Preprocess.
func (pc *PointCloud) Metadata() Metadata { return pc.metadata }

// Decimation returns the currently applied decimation factor.
func (pc *PointCloud) Decimation() int { return pc.decimation }

// ActiveAttribute returns the attribute points are colored by.
func (pc *PointCloud) ActiveAttribute() string { return pc.activeAttribute }

// Info returns the engine record of a source node, nil before first visit.
func (pc *PointCloud) Info(id string) *NodeInfo { return pc.infos[id] }

// Preprocess initializes the source and loads hierarchy and metadata.
func (pc *PointCloud) Preprocess(ctx *core.Context) error {
	pc.instance = ctx.Instance

	bg := context.Background()
	if err := pc.src.Initialize(bg); err != nil {
		return fmt.Errorf("pointcloud: initialize source: %w", err)
	}
	meta, err := pc.src.GetMetadata(bg)
	if err != nil {
		return fmt.Errorf("pointcloud: metadata: %w", err)
	}
	root, err := pc.src.GetHierarchy(bg)
	if err != nil {
		return fmt.Errorf("pointcloud: hierarchy: %w", err)
	}
	pc.metadata = meta
	pc.root = root

	if pc.activeAttribute == "" && len(meta.Attributes) > 0 {
		pc.activeAttribute = meta.Attributes[0].Name
	}

	if pc.overlay != nil {
		done := pc.Ops.Begin()
		go func() {
			defer done()
			if err := pc.overlay.Initialize(context.Background()); err != nil {
				pc.Log().Error("overlay layer initialization failed", "error", err)
			}
			ctx.Instance.NotifyChange(pc, true)
		}()
	}
	return nil
}

// PreUpdate starts the walk from the source root.
func (pc *PointCloud) PreUpdate(ctx *core.Context, changes *core.ChangeSet) []core.Node {
	if pc.root == nil {
		return nil
	}
	return []core.Node{pc.root}
}

// Update keeps a node when its volume passes the frustum test and its
// on-screen spacing justifies it; descent continues while the spacing
// exceeds the threshold. Failing subtrees are hidden.
func (pc *PointCloud) Update(ctx *core.Context, node core.Node) []core.Node {
	sn, ok := node.(SourceNode)
	if !ok {
		return nil
	}
	info := pc.infoFor(sn)

	if !ctx.View.IsBox3Visible(sn.Volume(), nil) {
		pc.hideSubtree(ctx, sn)
		return nil
	}

	info.shouldBeVisible = true
	if sn.HasData() {
		pc.wantDisplayed(ctx, sn, info)
	}

	if pc.onScreenSpacing(ctx, sn)-pc.cfg.PointSize/2 > pc.cfg.SubdivisionThreshold {
		children := sn.Children()
		out := make([]core.Node, len(children))
		for i, c := range children {
			out[i] = c
		}
		return out
	}

	// Not worth descending: the subtree below is hidden.
	for _, c := range sn.Children() {
		pc.hideSubtree(ctx, c)
	}
	return nil
}

// onScreenSpacing is preSSE * geometricError / distance.
func (pc *PointCloud) onScreenSpacing(ctx *core.Context, sn SourceNode) float64 {
	dist := ctx.View.Camera.Position().DistanceTo(sn.Center())
	if dist <= 0 {
		return math.Inf(1)
	}
	return ctx.View.PreSSE() * sn.GeometricError() / dist
}

func (pc *PointCloud) infoFor(sn SourceNode) *NodeInfo {
	info, ok := pc.infos[sn.ID()]
	if !ok {
		info = &NodeInfo{state: StateEmpty}
		pc.infos[sn.ID()] = info
	}
	return info
}

// wantDisplayed drives a node toward displayed, loading data as needed.
func (pc *PointCloud) wantDisplayed(ctx *core.Context, sn SourceNode, info *NodeInfo) {
	switch info.state {
	case StateDisplayed, StateLoading:
		// Already there or on the way.
	case StateHidden:
		if info.mesh != nil {
			pc.applyTransition(ctx, sn, info, StateDisplayed)
		} else {
			pc.applyTransition(ctx, sn, info, StateLoading)
		}
	case StateEmpty:
		pc.applyTransition(ctx, sn, info, StateLoading)
	}
}

func (pc *PointCloud) hideSubtree(ctx *core.Context, sn SourceNode) {
	info, ok := pc.infos[sn.ID()]
	if ok {
		info.shouldBeVisible = false
		switch info.state {
		case StateDisplayed:
			pc.applyTransition(ctx, sn, info, StateHidden)
		case StateLoading:
			// Nothing mounted yet: drop straight back to empty.
			pc.applyTransition(ctx, sn, info, StateEmpty)
		}
	}
	for _, c := range sn.Children() {
		pc.hideSubtree(ctx, c)
	}
}

// applyTransition moves the state machine and applies the post-transition
// effects.
func (pc *PointCloud) applyTransition(ctx *core.Context, sn SourceNode, info *NodeInfo, to NodeState) {
	if err := info.transition(to, ctx.Now); err != nil {
		pc.Log().Error("point cloud state machine", "node", sn.ID(), "error", err)
		return
	}
	switch to {
	case StateHidden:
		info.abort()
		if info.mesh != nil {
			info.mesh.SetVisible(false)
		}
	case StateDisplayed:
		info.abort()
		if info.mesh != nil {
			info.mesh.SetVisible(true)
			pc.refreshUniforms(info.mesh)
		}
	case StateEmpty:
		info.abort()
		if info.mesh != nil {
			info.mesh.dispose()
			info.mesh = nil
		}
	case StateLoading:
		pc.issueLoad(ctx, sn, info)
	}
}

// issueLoad fetches node data through the request queue. Positions are
// requested only when the mesh does not exist yet or positions are dirty;
// an attribute swap reloads attributes alone.
func (pc *PointCloud) issueLoad(ctx *core.Context, sn SourceNode, info *NodeInfo) {
	fetchCtx := info.newFetchContext()
	needPosition := info.mesh == nil || info.positionDirty
	attribute := pc.activeAttribute

	req := NodeDataRequest{Node: sn, Position: needPosition, Attribute: attribute}
	loop := ctx.Instance.Loop()
	done := pc.Ops.Begin()

	task := ctx.Queue.Enqueue(sched.Op{
		ID:       "points/" + pc.ID() + "/" + sn.ID() + "/" + attribute + posKey(needPosition),
		Priority: ctx.Priority(),
		Ctx:      fetchCtx,
		ShouldExecute: func() bool {
			return info.shouldBeVisible && info.state == StateLoading
		},
		Request: func(rctx context.Context) (any, error) {
			return pc.src.GetNodeData(rctx, req)
		},
	})

	go func() {
		v, err := task.Wait(context.Background())
		loop.Post(func() {
			defer done()
			if info.state != StateLoading {
				// A later transition superseded this load.
				return
			}
			if err != nil {
				if !isCancellation(err) {
					pc.Log().Warn("node data fetch failed", "node", sn.ID(), "error", err)
				}
				pc.applyTransition(ctx, sn, info, StateEmpty)
				return
			}
			pc.mountData(ctx, sn, info, v.(*NodeData), attribute)
		})
	}()
}

func posKey(withPosition bool) string {
	if withPosition {
		return "/pos"
	}
	return ""
}

func (pc *PointCloud) mountData(ctx *core.Context, sn SourceNode, info *NodeInfo, data *NodeData, attribute string) {
	if info.mesh == nil {
		info.mesh = &PointMesh{
			nodeID: sn.ID(),
			depth:  sn.Depth(),
			box:    sn.Volume(),
		}
		info.mesh.material.overlayCRS = ctx.Instance.CRS()
		info.mesh.material.PointSize = pc.cfg.PointSize
		info.mesh.material.Decimation = pc.decimation
	}
	m := info.mesh
	if len(data.Position) > 0 {
		m.positions = data.Position
		m.origin = data.Origin
		m.scale = data.Scale
		if data.LocalBoundingBox != nil {
			m.box = *data.LocalBoundingBox
		}
		info.positionDirty = false
	}
	m.setAttribute(attribute, data.Attribute)

	pc.applyTransition(ctx, sn, info, StateDisplayed)
	ctx.Instance.NotifyChange(pc, true)
}

// SetActiveAttribute hot-swaps the colored attribute without reloading
// positions: displayed and loading nodes re-enter loading, hidden nodes
// drop to empty (their data is obsolete), empty nodes stay put.
func (pc *PointCloud) SetActiveAttribute(ctx *core.Context, name string) {
	if name == pc.activeAttribute {
		return
	}
	pc.activeAttribute = name

	pc.forEachNode(pc.root, func(sn SourceNode) {
		info, ok := pc.infos[sn.ID()]
		if !ok {
			return
		}
		switch info.state {
		case StateDisplayed, StateLoading:
			info.positionDirty = false
			pc.applyTransition(ctx, sn, info, StateLoading)
		case StateHidden:
			pc.applyTransition(ctx, sn, info, StateEmpty)
		}
	})
	ctx.Instance.NotifyChange(pc, true)
}

// PostUpdate applies the point budget and the hidden -> empty hysteresis,
// and drives the overlay layer in 'layer' mode.
func (pc *PointCloud) PostUpdate(ctx *core.Context) {
	pc.applyBudget()

	if ctx.Now.Sub(pc.lastPoll) >= pc.cfg.PollInterval {
		pc.lastPoll = ctx.Now
		pc.cleanupHidden(ctx)
	}

	if pc.cfg.Mode == ColorByLayer && pc.overlay != nil {
		for _, info := range pc.infos {
			if info.state == StateDisplayed && info.mesh != nil {
				pc.overlay.Update(ctx, info.mesh)
			}
		}
		pc.overlay.PostUpdate(ctx)
	}
}

// applyBudget sums displayed points and derives the decimation factor.
func (pc *PointCloud) applyBudget() {
	if pc.cfg.PointBudget <= 0 {
		pc.pushDecimation(pc.cfg.Decimation)
		return
	}
	total := 0
	for _, info := range pc.infos {
		if info.state == StateDisplayed && info.mesh != nil {
			total += info.mesh.PointCount()
		}
	}
	decimation := 1
	if total > pc.cfg.PointBudget {
		decimation = total / pc.cfg.PointBudget
		if decimation < 1 {
			decimation = 1
		}
	}
	pc.pushDecimation(decimation)
}

func (pc *PointCloud) pushDecimation(d int) {
	pc.decimation = d
	for _, info := range pc.infos {
		if info.mesh != nil {
			info.mesh.material.Decimation = d
		}
	}
}

// cleanupHidden empties nodes hidden for longer than the cleanup delay,
// keeping recently hidden ones mounted for fast re-show.
func (pc *PointCloud) cleanupHidden(ctx *core.Context) {
	pc.forEachNode(pc.root, func(sn SourceNode) {
		info, ok := pc.infos[sn.ID()]
		if !ok || info.state != StateHidden {
			return
		}
		if ctx.Now.Sub(info.stateTimestamp) > pc.cfg.CleanupDelay {
			pc.applyTransition(ctx, sn, info, StateEmpty)
		}
	})
}

func (pc *PointCloud) refreshUniforms(m *PointMesh) {
	m.material.PointSize = pc.cfg.PointSize
	m.material.Decimation = pc.decimation
	m.material.ActiveAttribute = pc.activeAttribute
}

// DisplayedPointCount sums the points of displayed meshes.
func (pc *PointCloud) DisplayedPointCount() int {
	total := 0
	for _, info := range pc.infos {
		if info.state == StateDisplayed && info.mesh != nil {
			total += info.mesh.PointCount()
		}
	}
	return total
}

func (pc *PointCloud) forEachNode(sn SourceNode, fn func(SourceNode)) {
	if sn == nil {
		return
	}
	fn(sn)
	for _, c := range sn.Children() {
		pc.forEachNode(c, fn)
	}
}

// Loading aggregates entity and overlay operations.
func (pc *PointCloud) Loading() bool {
	if pc.Ops.Loading() {
		return true
	}
	return pc.overlay != nil && pc.overlay.Loading()
}

// Dispose aborts every fetch and destroys every mesh.
func (pc *PointCloud) Dispose() {
	for _, info := range pc.infos {
		info.abort()
		if info.mesh != nil {
			info.mesh.dispose()
			info.mesh = nil
		}
	}
	pc.infos = make(map[string]*NodeInfo)
}

// OnRenderingContextLost has nothing to pause.
func (pc *PointCloud) OnRenderingContextLost() {}

// OnRenderingContextRestored repaints the overlay from scratch.
func (pc *PointCloud) OnRenderingContextRestored() {
	if pc.overlay != nil {
		pc.overlay.Clear()
	}
	if pc.instance != nil {
		pc.instance.NotifyChange(pc, true)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sched.ErrSkipped)
}
