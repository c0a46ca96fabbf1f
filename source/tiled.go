package source

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/MeKo-Tech/terrastream/geo"
)

// TileCoord addresses a tile in the Web Mercator pyramid (XYZ scheme,
// origin north-west).
type TileCoord struct {
	Z, X, Y uint32
}

func (c TileCoord) String() string {
	return fmt.Sprintf("z%d_x%d_y%d", c.Z, c.X, c.Y)
}

// Extent returns the tile's footprint in EPSG:3857.
func (c TileCoord) Extent() geo.Extent {
	b := maptile.New(c.X, c.Y, maptile.Zoom(c.Z)).Bound()
	minX, minY := lonLatToMercator(b.Min.Lon(), b.Min.Lat())
	maxX, maxY := lonLatToMercator(b.Max.Lon(), b.Max.Lat())
	return geo.MustExtent(geo.WebMercator, minX, maxX, minY, maxY)
}

const earthRadius = 6378137.0

func lonLatToMercator(lon, lat float64) (float64, float64) {
	x := earthRadius * lon * math.Pi / 180
	latRad := lat * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+latRad/2))
	return x, y
}

// MercatorExtent is the full EPSG:3857 square.
func MercatorExtent() geo.Extent {
	limit := earthRadius * math.Pi
	return geo.MustExtent(geo.WebMercator, -limit, limit, -limit, limit)
}

// ZoomForResolution returns the zoom whose tiles (of tileSize pixels) best
// match the requested meters-per-pixel resolution, clamped to [min, max].
func ZoomForResolution(metersPerPixel float64, tileSize, minZoom, maxZoom int) int {
	if metersPerPixel <= 0 {
		return maxZoom
	}
	worldWidth := 2 * earthRadius * math.Pi
	// At zoom z a tile covers worldWidth/2^z meters over tileSize pixels.
	z := math.Log2(worldWidth / (metersPerPixel * float64(tileSize)))
	zi := int(math.Round(z))
	if zi < minZoom {
		zi = minZoom
	}
	if zi > maxZoom {
		zi = maxZoom
	}
	return zi
}

// TilesCovering enumerates the tiles of the given zoom intersecting extent
// (in EPSG:3857).
func TilesCovering(extent geo.Extent, zoom int) []TileCoord {
	world := MercatorExtent()
	clipped, ok := extent.Intersection(world)
	if !ok {
		return nil
	}

	n := uint32(1) << uint(zoom)
	span := world.Width()
	toTile := func(x, y float64) (uint32, uint32) {
		tx := (x - world.West) / span * float64(n)
		ty := (world.North - y) / span * float64(n)
		cx := uint32(math.Min(math.Max(math.Floor(tx), 0), float64(n-1)))
		cy := uint32(math.Min(math.Max(math.Floor(ty), 0), float64(n-1)))
		return cx, cy
	}

	// Nudge the max corner inward so an extent ending exactly on a tile
	// boundary does not pick up the next row.
	eps := span / float64(n) * 1e-9
	minX, minY := toTile(clipped.West+eps, clipped.North-eps)
	maxX, maxY := toTile(clipped.East-eps, clipped.South+eps)

	out := make([]TileCoord, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			out = append(out, TileCoord{Z: uint32(zoom), X: x, Y: y})
		}
	}
	return out
}

// TileAt returns the tile containing the WGS84 point at the given zoom.
func TileAt(lon, lat float64, zoom int) TileCoord {
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
	return TileCoord{Z: uint32(zoom), X: t.X, Y: t.Y}
}
