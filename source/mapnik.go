package source

// #cgo LDFLAGS: -lmapnik
// #cgo CXXFLAGS: -std=c++14
import "C"

import (
	"context"
	"fmt"
	"sync"

	mapnik "github.com/omniscale/go-mapnik/v2"

	"github.com/MeKo-Tech/terrastream/geo"
)

const mercatorSRS = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs +over"

// MapnikConfig configures a Mapnik-rendered source.
type MapnikConfig struct {
	// StyleFile is the Mapnik XML stylesheet. Required.
	StyleFile string
	// DatasourcesPath registers Mapnik input plugins; empty uses the
	// default system path.
	DatasourcesPath string
	// Extent bounds the source in EPSG:3857; zero covers the world.
	Extent geo.Extent
}

// Mapnik renders styled vector data into raster images on demand. Rendering
// happens under the request queue; the Mapnik map object is not reentrant,
// so renders serialize on an internal lock.
type Mapnik struct {
	cfg MapnikConfig

	mu  sync.Mutex
	m   *mapnik.Map
	err error
}

// NewMapnik creates the source; the stylesheet loads in Initialize.
func NewMapnik(cfg MapnikConfig) *Mapnik {
	if !cfg.Extent.IsValid() || cfg.Extent.Width() == 0 {
		cfg.Extent = MercatorExtent()
	}
	return &Mapnik{cfg: cfg}
}

func (s *Mapnik) ID() string         { return "mapnik:" + s.cfg.StyleFile }
func (s *Mapnik) CRS() string        { return geo.WebMercator }
func (s *Mapnik) Extent() geo.Extent { return s.cfg.Extent }
func (s *Mapnik) Synchronous() bool  { return false }

// Initialize registers the datasources and loads the stylesheet.
func (s *Mapnik) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m != nil || s.err != nil {
		return s.err
	}

	path := s.cfg.DatasourcesPath
	if path == "" {
		path = "/usr/lib/mapnik/3.1/input"
	}
	if err := mapnik.RegisterDatasources(path); err != nil {
		s.err = fmt.Errorf("source: register mapnik datasources: %w", err)
		return s.err
	}

	m := mapnik.New()
	if err := m.Load(s.cfg.StyleFile); err != nil {
		s.err = fmt.Errorf("source: load mapnik style: %w", err)
		return s.err
	}
	m.SetSRS(mercatorSRS)
	s.m = m
	return nil
}

// GetImages renders the clipped extent as a single image at the requested
// resolution.
func (s *Mapnik) GetImages(extent geo.Extent, width, height int) []Request {
	clipped, ok := extent.Intersection(s.cfg.Extent)
	if !ok || width <= 0 || height <= 0 {
		return nil
	}
	id := fmt.Sprintf("%s/%s/%dx%d", s.ID(), clipped, width, height)
	return []Request{{
		ID: id,
		Fetch: func(ctx context.Context) (*Image, error) {
			return s.renderExtent(ctx, id, clipped, width, height)
		},
	}}
}

func (s *Mapnik) renderExtent(ctx context.Context, id string, extent geo.Extent, width, height int) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, fmt.Errorf("source: mapnik not initialized")
	}

	s.m.Resize(width, height)
	s.m.ZoomTo(extent.West, extent.South, extent.East, extent.North)
	img, err := s.m.RenderImage(mapnik.RenderOpts{Format: "png32"})
	if err != nil {
		return nil, fmt.Errorf("source: mapnik render: %w", err)
	}
	return &Image{ID: id, Extent: extent, Texture: textureFromRendered(img)}, nil
}

// Close frees the Mapnik map object.
func (s *Mapnik) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m != nil {
		s.m.Free()
		s.m = nil
	}
	return nil
}
