package pointcloud

import (
	"context"

	"github.com/MeKo-Tech/terrastream/math3"
)

// AttributeInterpretation tags how an attribute colors points.
type AttributeInterpretation int

const (
	InterpretationUnknown AttributeInterpretation = iota
	InterpretationColor
	InterpretationClassification
)

// Attribute describes one per-point attribute of a source.
type Attribute struct {
	Name           string
	Interpretation AttributeInterpretation
	// Min and Max bound scalar attributes when known.
	Min, Max float64
}

// Metadata describes a point cloud source.
type Metadata struct {
	Volume     math3.Box3
	PointCount int64
	Attributes []Attribute
	CRS        string
}

// SourceNode is a node of the source's hierarchy, opaque to the engine
// beyond this surface.
type SourceNode interface {
	// ID is stable and unique within the source.
	ID() string
	// Depth is the node's level, 0 at the root.
	Depth() int
	// Volume is the node's bounding box.
	Volume() math3.Box3
	// Center is the point distances are measured against.
	Center() math3.Vector3
	// GeometricError is the worst-case error when drawing this node
	// instead of its children.
	GeometricError() float64
	// HasData reports whether the node carries points of its own.
	HasData() bool
	// Children returns the child nodes.
	Children() []SourceNode
}

// NodeDataRequest asks a source for one node's payload.
type NodeDataRequest struct {
	Node SourceNode
	// Position requests the position buffer; off for attribute-only
	// reloads.
	Position bool
	// Attribute names the attribute buffer to load, empty for none.
	Attribute string
}

// NodeData is a source's payload for one node.
type NodeData struct {
	// Position holds packed (x, y, z) float triplets relative to Origin,
	// scaled by Scale.
	Position []float32
	// Attribute holds the requested attribute values, one per point.
	Attribute []float32
	Origin    math3.Vector3
	Scale     float64
	// LocalBoundingBox refines the node volume when known.
	LocalBoundingBox *math3.Box3
}

// PointCount returns the number of points in the payload.
func (d *NodeData) PointCount() int { return len(d.Position) / 3 }

// Source streams hierarchical point data.
type Source interface {
	Initialize(ctx context.Context) error
	GetHierarchy(ctx context.Context) (SourceNode, error)
	GetMetadata(ctx context.Context) (Metadata, error)
	GetNodeData(ctx context.Context, req NodeDataRequest) (*NodeData, error)
}
