package terrain

import (
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/render"
)

// RenderState selects the material's shading program.
type RenderState int

const (
	// RenderStateNormal is the layered color/elevation shading.
	RenderStateNormal RenderState = iota
	// RenderStatePicking encodes (tileID, elevation, u, v) per pixel for
	// GPU picking readback.
	RenderStatePicking
)

// textureSlot is one layer's contribution to the material.
type textureSlot struct {
	texture *render.Texture
	pitch   geo.OffsetScale
	isLast  bool
}

// LayeredMaterial stacks the textures painted by the map's layers onto one
// tile, in layer order, with per-layer pitch uniforms. It also carries the
// stitching levels the shader uses to collapse edge vertices against
// coarser neighbours.
type LayeredMaterial struct {
	visible bool
	opacity float64
	state   RenderState

	order []string
	slots map[string]*textureSlot

	// NeighbourLevels holds, per direction, the level of the neighbouring
	// tile an edge must stitch down to; -1 means no constraint.
	NeighbourLevels [8]int

	atlas *layer.Atlas
}

// NewLayeredMaterial creates an empty material.
func NewLayeredMaterial() *LayeredMaterial {
	m := &LayeredMaterial{
		visible: true,
		opacity: 1,
		slots:   make(map[string]*textureSlot),
	}
	for i := range m.NeighbourLevels {
		m.NeighbourLevels[i] = -1
	}
	return m
}

// Visible reports whether the tile is drawn.
func (m *LayeredMaterial) Visible() bool { return m.visible }

// SetVisible toggles drawing.
func (m *LayeredMaterial) SetVisible(v bool) { m.visible = v }

// SetLayerOrder fixes the compositing order by layer id.
func (m *LayeredMaterial) SetLayerOrder(ids []string) {
	m.order = append(m.order[:0], ids...)
}

// SetTexture installs a layer's paint result.
func (m *LayeredMaterial) SetTexture(layerID string, tex *render.Texture, pitch geo.OffsetScale, isLast bool) {
	m.slots[layerID] = &textureSlot{texture: tex, pitch: pitch, isLast: isLast}
}

// Texture returns the installed texture and pitch for a layer.
func (m *LayeredMaterial) Texture(layerID string) (*render.Texture, geo.OffsetScale, bool) {
	s, ok := m.slots[layerID]
	if !ok {
		return nil, geo.OffsetScale{}, false
	}
	return s.texture, s.pitch, true
}

// HasTexture reports whether the layer has delivered anything.
func (m *LayeredMaterial) HasTexture(layerID string) bool {
	_, ok := m.slots[layerID]
	return ok
}

// TextureComplete reports whether the layer's slot saw its final paint.
func (m *LayeredMaterial) TextureComplete(layerID string) bool {
	s, ok := m.slots[layerID]
	return ok && s.isLast
}

// RemoveTexture drops a layer's slot (layer removed from the map).
func (m *LayeredMaterial) RemoveTexture(layerID string) {
	delete(m.slots, layerID)
}

// SetAtlas installs the atlas packing shared by the color layers.
func (m *LayeredMaterial) SetAtlas(a *layer.Atlas) { m.atlas = a }

// Atlas returns the installed packing, nil when unused.
func (m *LayeredMaterial) Atlas() *layer.Atlas { return m.atlas }

// PushRenderState swaps the shading program and returns the restore
// function. Used by GPU picking.
func (m *LayeredMaterial) PushRenderState(s RenderState) func() {
	prev := m.state
	m.state = s
	return func() { m.state = prev }
}

// State returns the active shading program.
func (m *LayeredMaterial) State() RenderState { return m.state }

// Dispose clears the texture slots. The textures belong to pooled render
// targets and are released by their layers, not here.
func (m *LayeredMaterial) Dispose() {
	m.slots = make(map[string]*textureSlot)
	m.visible = false
}
