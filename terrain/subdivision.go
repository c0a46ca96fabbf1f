// Package terrain implements the planar map entity: a quadtree of tile
// meshes subdivided by screen-space error, painted by raster layers,
// stitched against T-junction cracks, and pickable both by GPU readback and
// by raycasting.
package terrain

import (
	"math"

	"github.com/MeKo-Tech/terrastream/geo"
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MaxAspectRatio bounds the root grid: subdivisions.x * subdivisions.y
// never exceeds it.
const MaxAspectRatio = 10

// Subdivisions is the root tile grid of a map.
type Subdivisions struct {
	X, Y int
}

// SelectBestSubdivisions returns the root grid making tiles as square as
// possible for the extent, clamped by MaxAspectRatio.
func SelectBestSubdivisions(extent geo.Extent) Subdivisions {
	w, h := extent.Width(), extent.Height()
	if w <= 0 || h <= 0 {
		return Subdivisions{X: 1, Y: 1}
	}
	ratio := w / h
	if ratio >= 1 {
		n := int(math.Round(ratio))
		if n < 1 {
			n = 1
		}
		if n > MaxAspectRatio {
			n = MaxAspectRatio
		}
		return Subdivisions{X: n, Y: 1}
	}
	n := int(math.Round(1 / ratio))
	if n < 1 {
		n = 1
	}
	if n > MaxAspectRatio {
		n = MaxAspectRatio
	}
	return Subdivisions{X: 1, Y: n}
}

// ImageSize is the per-tile texture budget along each axis.
type ImageSize struct {
	X, Y int
}

// SelectImageSize gives tiles along the longer axis proportionally more
// pixels, anchored at base pixels for the shorter axis.
func SelectImageSize(extent geo.Extent, subdiv Subdivisions, base int) ImageSize {
	if base <= 0 {
		base = 256
	}
	tileW := extent.Width() / float64(subdiv.X)
	tileH := extent.Height() / float64(subdiv.Y)
	if tileW <= 0 || tileH <= 0 {
		return ImageSize{X: base, Y: base}
	}
	if tileW >= tileH {
		return ImageSize{
			X: int(math.Ceil(float64(base) * tileW / tileH)),
			Y: base,
		}
	}
	return ImageSize{
		X: base,
		Y: int(math.Ceil(float64(base) * tileH / tileW)),
	}
}
