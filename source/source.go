// Package source provides the raster data sources feeding the layer
// pipeline: MBTiles databases, procedural noise, static images, and
// Mapnik-rendered tiles, plus the tile-grid coverage math they share.
package source

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
)

// Image is one source image handed to the layer composer.
type Image struct {
	// ID is the stable identity of the image within its source, used for
	// composer deduplication and lock bookkeeping.
	ID string
	// Extent is the footprint of the image in the source's CRS.
	Extent geo.Extent
	// Texture holds the pixels.
	Texture *render.Texture
	// AlwaysVisible marks preloaded fallback imagery that must never be
	// evicted from the composer.
	AlwaysVisible bool
	// Min and Max carry the value range of elevation images.
	Min, Max float64
}

// Request is a pending image: a stable id plus the fetch that produces it.
type Request struct {
	ID    string
	Fetch func(ctx context.Context) (*Image, error)
}

// Source produces images covering extents at requested resolutions. All
// extents exchanged with a source are expressed in the source's own CRS.
type Source interface {
	// ID identifies the source; image ids are scoped by it.
	ID() string

	// Initialize prepares the source (opens files, probes metadata).
	Initialize(ctx context.Context) error

	// CRS returns the source's coordinate system.
	CRS() string

	// Extent returns the coverage of the source.
	Extent() geo.Extent

	// Synchronous reports whether GetImages fetches resolve inline without
	// touching the network or disk queues.
	Synchronous() bool

	// GetImages returns the requests covering extent at approximately
	// width x height pixels.
	GetImages(extent geo.Extent, width, height int) []Request
}

// ElevationProvider is implemented by sources that produce elevation (RG
// float) images and can advertise a value range before any fetch.
type ElevationProvider interface {
	// MinMax returns the global elevation range when known.
	MinMax() (min, max float64, ok bool)
}

// ErrNoCoverage is returned by fetches whose extent lies outside the
// source.
var ErrNoCoverage = fmt.Errorf("source: no coverage")
