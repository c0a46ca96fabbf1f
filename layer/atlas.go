package layer

import (
	"math"

	"github.com/MeKo-Tech/terrastream/render"
)

// AtlasBox is the packed placement of one layer inside a tile's texture
// atlas.
type AtlasBox struct {
	LayerID       string
	X, Y          int
	Width, Height int
}

// Atlas is the 2D packing of per-layer color textures into a single
// texture, used when the layer count would exceed the GPU texture-unit
// budget.
type Atlas struct {
	Boxes      map[string]AtlasBox
	MaxX, MaxY int
	// Type is the widest data type across the packed layers, so all of
	// them share one precision.
	Type render.DataType
}

// atlasSlotSize applies the packing headroom from the paint resolution.
func atlasSlotSize(imageSize int, resolutionFactor float64) int {
	return int(math.Ceil(float64(imageSize) * resolutionFactor * 1.1))
}

// PackAtlas lays the given layers out in a shelf packing. When previous is
// non-nil the packing is incremental: layers that were already packed keep
// their offsets, and only new layers are placed after them. The widest data
// type across the layers is selected for the whole atlas.
func PackAtlas(layers []*Layer, imageSize int, previous *Atlas) *Atlas {
	out := &Atlas{Boxes: make(map[string]AtlasBox), Type: render.TypeUnsignedByte}

	// Seed with the previous placement of still-present layers.
	present := make(map[string]bool, len(layers))
	for _, l := range layers {
		present[l.ID()] = true
	}
	if previous != nil {
		for id, box := range previous.Boxes {
			if present[id] {
				out.Boxes[id] = box
				out.MaxX = maxInt(out.MaxX, box.X+box.Width)
				out.MaxY = maxInt(out.MaxY, box.Y+box.Height)
			}
		}
	}

	// Shelf state continues from the seeded rows.
	shelfY := out.MaxY
	cursorX := 0
	shelfH := 0

	for _, l := range layers {
		if l.RenderTargetDataType() == render.TypeFloat32 {
			out.Type = render.TypeFloat32
		}
		if _, done := out.Boxes[l.ID()]; done {
			continue
		}
		size := atlasSlotSize(imageSize, l.cfg.ResolutionFactor)

		// Start a new shelf when the next box would run past the row limit:
		// the widest packed row so far, or four slots if that is wider. An
		// empty row always takes the box.
		rowLimit := maxInt(out.MaxX, size*4)
		if cursorX > 0 && cursorX+size > rowLimit {
			shelfY += shelfH
			cursorX = 0
			shelfH = 0
		}

		out.Boxes[l.ID()] = AtlasBox{
			LayerID: l.ID(),
			X:       cursorX,
			Y:       shelfY,
			Width:   size,
			Height:  size,
		}
		cursorX += size
		shelfH = maxInt(shelfH, size)
		out.MaxX = maxInt(out.MaxX, cursorX)
		out.MaxY = maxInt(out.MaxY, shelfY+shelfH)
	}

	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
