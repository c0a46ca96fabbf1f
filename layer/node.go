package layer

import (
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
)

// Node is what a layer needs from its host's nodes (map tiles, point cloud
// meshes): identity, geometry, visibility, a dispose hook, and a texture
// sink. The layer never owns nodes; it observes them.
type Node interface {
	// NodeID identifies the node within its entity.
	NodeID() string

	// NodeExtent is the node's geometric extent in the host's CRS.
	NodeExtent() geo.Extent

	// TileLevel is the node's subdivision depth, 0 at the root. The
	// eviction rule keeps every third level as fallback.
	TileLevel() int

	// NodeVisible reports whether the node is currently displayed.
	NodeVisible() bool

	// ParentNode returns the parent, nil at the root. Used to find
	// fallback textures.
	ParentNode() Node

	// OnDispose registers fn to run when the node leaves its hierarchy;
	// the returned function unsubscribes.
	OnDispose(fn func()) func()

	// ApplyTexture delivers a paint result for the given layer. pitch maps
	// the node's geometric extent into the texture's paint extent; isLast
	// reports that no further paints will follow for this texture.
	ApplyTexture(layerID string, tex *render.Texture, pitch geo.OffsetScale, isLast bool)
}
