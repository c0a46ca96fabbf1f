package pointcloud

import (
	"fmt"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/render"
)

// PointsMaterial is the shared shading state of the cloud, plus the
// per-mesh overlay slot of the 'layer' coloring mode.
type PointsMaterial struct {
	PointSize float64
	// Decimation displays 1 of N points; pushed from the budget pass.
	Decimation int
	// ActiveAttribute names the attribute the shader colors by.
	ActiveAttribute string

	// Overlay is the raster texture of the 'layer' coloring mode, sampled
	// by each point's XY through the pitch.
	Overlay      *render.Texture
	OverlayPitch geo.OffsetScale

	// overlayCRS is the instance CRS the mesh extent is expressed in.
	overlayCRS string
}

// PointMesh is the mounted geometry of one source node.
type PointMesh struct {
	nodeID string
	depth  int

	positions []float32
	attribute []float32
	origin    math3.Vector3
	scale     float64
	box       math3.Box3

	material PointsMaterial
	visible  bool

	disposeSubs []func()
	disposed    bool
}

// NodeID identifies the owning source node.
func (m *PointMesh) NodeID() string { return "points-" + m.nodeID }

// PointCount returns the number of mounted points.
func (m *PointMesh) PointCount() int { return len(m.positions) / 3 }

// Material returns the mesh material for uniform updates.
func (m *PointMesh) Material() *PointsMaterial { return &m.material }

// Visible reports whether the mesh is drawn.
func (m *PointMesh) Visible() bool { return m.visible && !m.disposed }

// SetVisible toggles drawing.
func (m *PointMesh) SetVisible(v bool) { m.visible = v }

// BoundingBox returns the mesh bounds.
func (m *PointMesh) BoundingBox() math3.Box3 { return m.box }

// Positions exposes the packed position buffer.
func (m *PointMesh) Positions() []float32 { return m.positions }

// Attribute exposes the active attribute buffer.
func (m *PointMesh) Attribute() []float32 { return m.attribute }

// setAttribute swaps the attribute buffer without touching positions.
func (m *PointMesh) setAttribute(name string, values []float32) {
	m.material.ActiveAttribute = name
	m.attribute = values
}

// dispose destroys geometry and notifies observers (the overlay layer).
func (m *PointMesh) dispose() {
	if m.disposed {
		return
	}
	m.disposed = true
	m.positions = nil
	m.attribute = nil
	m.visible = false
	for _, fn := range m.disposeSubs {
		if fn != nil {
			fn()
		}
	}
	m.disposeSubs = nil
}

// layer.Node implementation, for the 'layer' coloring mode.

// NodeExtent is the XY footprint of the mesh.
func (m *PointMesh) NodeExtent() geo.Extent {
	return geo.Extent{
		CRS:   m.material.overlayCRS,
		West:  m.box.Min.X,
		East:  m.box.Max.X,
		South: m.box.Min.Y,
		North: m.box.Max.Y,
	}
}

// TileLevel maps the node depth onto the layer eviction rules.
func (m *PointMesh) TileLevel() int { return m.depth }

// NodeVisible reports whether the mesh is drawn.
func (m *PointMesh) NodeVisible() bool { return m.Visible() }

// ParentNode returns nil: point meshes have no fallback chain.
func (m *PointMesh) ParentNode() layer.Node { return nil }

// OnDispose registers a dispose hook.
func (m *PointMesh) OnDispose(fn func()) func() {
	m.disposeSubs = append(m.disposeSubs, fn)
	idx := len(m.disposeSubs) - 1
	return func() {
		if idx < len(m.disposeSubs) {
			m.disposeSubs[idx] = nil
		}
	}
}

// ApplyTexture installs the overlay texture.
func (m *PointMesh) ApplyTexture(layerID string, tex *render.Texture, pitch geo.OffsetScale, isLast bool) {
	m.material.Overlay = tex
	m.material.OverlayPitch = pitch
}

func (m *PointMesh) String() string {
	return fmt.Sprintf("PointMesh(%s, %d pts)", m.nodeID, m.PointCount())
}
