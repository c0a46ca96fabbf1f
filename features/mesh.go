package features

import (
	"github.com/MeKo-Tech/terrastream/math3"
)

// MeshKind tags the geometry families produced by the converter.
type MeshKind int

const (
	MeshPoint MeshKind = iota
	MeshLine
	MeshSurface
)

func (k MeshKind) String() string {
	switch k {
	case MeshPoint:
		return "point"
	case MeshLine:
		return "line"
	}
	return "surface"
}

// Mesh is one renderable geometry: interleaved positions (x, y, z), triangle
// indices for surfaces, and a shared material.
type Mesh struct {
	Kind      MeshKind
	Positions []float32
	Normals   []float32
	Indices   []uint32
	// LineOffsets carries the per-vertex side offsets (-1/+1) of the
	// thick-line representation.
	LineOffsets []float32
	Material    *Material
	FeatureID   string

	boundingBox math3.Box3
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Positions) / 3 }

// BoundingBox returns the mesh bounds.
func (m *Mesh) BoundingBox() math3.Box3 { return m.boundingBox }

func (m *Mesh) computeBounds() {
	box := math3.EmptyBox3()
	for i := 0; i+2 < len(m.Positions); i += 3 {
		box = box.ExpandByPoint(math3.Vec3(
			float64(m.Positions[i]),
			float64(m.Positions[i+1]),
			float64(m.Positions[i+2]),
		))
	}
	m.boundingBox = box
}

// Dispose drops the buffers. Materials are shared and survive.
func (m *Mesh) Dispose() {
	m.Positions = nil
	m.Normals = nil
	m.Indices = nil
	m.LineOffsets = nil
}
