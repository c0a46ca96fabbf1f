// Package tiles3d loads 3D Tiles tilesets: an externally defined hierarchy
// with per-tile geometric error and additive or replacement refinement.
// Payload decoding (b3dm, pnts) is delegated to consumer-provided decoders.
package tiles3d

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/terrastream/math3"
)

// Refine selects how children relate to their parent's content.
type Refine int

const (
	// RefineReplace substitutes the children for the parent.
	RefineReplace Refine = iota
	// RefineAdd draws the children on top of the parent.
	RefineAdd
)

// ContentKind classifies a content payload by its magic bytes.
type ContentKind int

const (
	ContentUnknown ContentKind = iota
	// ContentTileset is a nested tileset JSON ('{').
	ContentTileset
	// ContentB3DM is a batched glTF payload.
	ContentB3DM
	// ContentPNTS is a point payload.
	ContentPNTS
)

// ClassifyContent sniffs a payload's magic code.
func ClassifyContent(data []byte) ContentKind {
	switch {
	case len(data) > 0 && data[0] == '{':
		return ContentTileset
	case bytes.HasPrefix(data, []byte("b3dm")):
		return ContentB3DM
	case bytes.HasPrefix(data, []byte("pnts")):
		return ContentPNTS
	}
	return ContentUnknown
}

// BoundingVolume is one of box, region or sphere.
type BoundingVolume struct {
	// Box is the 3D Tiles oriented box: center + three half-axes.
	Box []float64 `json:"box,omitempty"`
	// Region is west, south, east, north (radians), min and max height.
	Region []float64 `json:"region,omitempty"`
	// Sphere is center x, y, z and radius.
	Sphere []float64 `json:"sphere,omitempty"`
}

// AABB conservatively converts a box or sphere volume into an axis-aligned
// box. Region volumes are not converted and report false.
func (v *BoundingVolume) AABB() (math3.Box3, bool) {
	switch {
	case len(v.Box) == 12:
		c := math3.Vec3(v.Box[0], v.Box[1], v.Box[2])
		ext := math3.Vector3{}
		for axis := 0; axis < 3; axis++ {
			a := math3.Vec3(v.Box[3+axis*3], v.Box[4+axis*3], v.Box[5+axis*3])
			ext.X += abs(a.X)
			ext.Y += abs(a.Y)
			ext.Z += abs(a.Z)
		}
		return math3.NewBox3(c.Sub(ext), c.Add(ext)), true
	case len(v.Sphere) == 4:
		c := math3.Vec3(v.Sphere[0], v.Sphere[1], v.Sphere[2])
		r := math3.Vec3(v.Sphere[3], v.Sphere[3], v.Sphere[3])
		return math3.NewBox3(c.Sub(r), c.Add(r)), true
	}
	return math3.Box3{}, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Content references a tile payload; either key is accepted on the wire.
type Content struct {
	URI string `json:"uri,omitempty"`
	URL string `json:"url,omitempty"`
}

// Ref returns the payload reference, whichever key carried it.
func (c *Content) Ref() string {
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

// Tile is one node of the external hierarchy.
type Tile struct {
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	RefineRaw      string         `json:"refine,omitempty"`
	Transform      []float64      `json:"transform,omitempty"`
	Content        *Content       `json:"content,omitempty"`
	Children       []*Tile        `json:"children,omitempty"`
}

// Refine resolves the tile's refinement, inheriting parentDefault when the
// tile does not specify one.
func (t *Tile) Refine(parentDefault Refine) Refine {
	switch t.RefineRaw {
	case "ADD":
		return RefineAdd
	case "REPLACE":
		return RefineReplace
	}
	return parentDefault
}

// TransformMatrix returns the tile's transform, identity when absent.
func (t *Tile) TransformMatrix() math3.Matrix4 {
	if len(t.Transform) != 16 {
		return math3.Identity()
	}
	var m math3.Matrix4
	copy(m[:], t.Transform)
	return m
}

// Asset is the tileset header.
type Asset struct {
	Version string `json:"version"`
}

// Tileset is the parsed root document.
type Tileset struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           *Tile   `json:"root"`
}

// ParseTileset decodes tileset JSON, rejecting documents without a root.
func ParseTileset(data []byte) (*Tileset, error) {
	var ts Tileset
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("tiles3d: parse tileset: %w", err)
	}
	if ts.Root == nil {
		return nil, fmt.Errorf("tiles3d: tileset has no root")
	}
	return &ts, nil
}
