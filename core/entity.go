package core

import (
	"log/slog"
	"sync/atomic"
)

// EntityKind tags the concrete entity families.
type EntityKind int

const (
	KindMap EntityKind = iota
	KindFeatureCollection
	KindPointCloud
	KindTiles3D
)

func (k EntityKind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindFeatureCollection:
		return "features"
	case KindPointCloud:
		return "pointcloud"
	case KindTiles3D:
		return "tiles3d"
	}
	return "unknown"
}

// Node is an opaque traversal handle: each entity hands the main loop its
// own node type (tile meshes, feature tiles, point cloud nodes) and receives
// it back in Update.
type Node interface{}

// Entity is a member of the instance's update loop. PreUpdate returns the
// traversal roots, Update descends (nil prunes), PostUpdate runs
// bookkeeping after the walk.
type Entity interface {
	ID() string
	Kind() EntityKind

	// Preprocess runs once when the entity joins an instance.
	Preprocess(ctx *Context) error

	PreUpdate(ctx *Context, changes *ChangeSet) []Node
	Update(ctx *Context, node Node) []Node
	PostUpdate(ctx *Context)

	Visible() bool
	SetVisible(bool)

	// Loading and Progress aggregate the entity's outstanding work.
	Loading() bool
	Progress() float64

	Dispose()

	OnRenderingContextLost()
	OnRenderingContextRestored()
}

// ChangeSet is the set of change sources collected since the last frame.
// An empty set means "camera moved, update everything".
type ChangeSet struct {
	sources map[any]struct{}
}

// NewChangeSet creates an empty set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{sources: make(map[any]struct{})}
}

// Add records a change source; nil marks a global change.
func (c *ChangeSet) Add(source any) {
	if source == nil {
		return
	}
	c.sources[source] = struct{}{}
}

// All reports whether everything must update (no specific source recorded).
func (c *ChangeSet) All() bool {
	return c == nil || len(c.sources) == 0
}

// Has reports whether source was recorded.
func (c *ChangeSet) Has(source any) bool {
	if c == nil {
		return false
	}
	_, ok := c.sources[source]
	return ok
}

// Sources returns the recorded sources.
func (c *ChangeSet) Sources() []any {
	if c == nil {
		return nil
	}
	out := make([]any, 0, len(c.sources))
	for s := range c.sources {
		out = append(out, s)
	}
	return out
}

var entitySeq atomic.Uint64

// Entity3D carries the state shared by every entity implementation and is
// embedded by the concrete types.
type Entity3D struct {
	id      string
	kind    EntityKind
	visible bool

	Events *Events
	Ops    *ProgressTracker
	Logger *slog.Logger
}

// NewEntity3D initializes the shared state; an empty id is replaced by a
// generated one.
func NewEntity3D(id string, kind EntityKind) Entity3D {
	if id == "" {
		id = kind.String() + "-" + itoa(entitySeq.Add(1))
	}
	return Entity3D{
		id:      id,
		kind:    kind,
		visible: true,
		Events:  NewEvents(),
		Ops:     NewProgressTracker(),
	}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (e *Entity3D) ID() string        { return e.id }
func (e *Entity3D) Kind() EntityKind  { return e.kind }
func (e *Entity3D) Visible() bool     { return e.visible }
func (e *Entity3D) SetVisible(v bool) { e.visible = v }
func (e *Entity3D) Loading() bool     { return e.Ops.Loading() }

// Progress returns the aggregated completion of the entity's outstanding
// operations in [0, 1].
func (e *Entity3D) Progress() float64 { return e.Ops.Progress() }

// Log returns the entity logger, falling back to slog.Default.
func (e *Entity3D) Log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
