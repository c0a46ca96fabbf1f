package source

import (
	"context"
	"fmt"
	"image"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
)

// StaticImage serves one pre-decoded image over a fixed extent. It is the
// simplest synchronous source and exercises the inline paint path.
type StaticImage struct {
	id     string
	extent geo.Extent
	tex    *render.Texture
}

// NewStaticImage wraps img over extent.
func NewStaticImage(id string, extent geo.Extent, img *image.NRGBA) (*StaticImage, error) {
	if id == "" {
		return nil, fmt.Errorf("source: static image needs an id")
	}
	if !extent.IsValid() {
		return nil, fmt.Errorf("source: invalid extent %s", extent)
	}
	return &StaticImage{id: id, extent: extent, tex: render.TextureFromImage(img)}, nil
}

func (s *StaticImage) ID() string                           { return "static:" + s.id }
func (s *StaticImage) Initialize(ctx context.Context) error { return nil }
func (s *StaticImage) CRS() string                          { return s.extent.CRS }
func (s *StaticImage) Extent() geo.Extent                   { return s.extent }
func (s *StaticImage) Synchronous() bool                    { return true }

func (s *StaticImage) GetImages(extent geo.Extent, width, height int) []Request {
	if !extent.Intersects(s.extent) {
		return nil
	}
	return []Request{{
		ID: s.ID(),
		Fetch: func(ctx context.Context) (*Image, error) {
			return &Image{ID: s.ID(), Extent: s.extent, Texture: s.tex, AlwaysVisible: true}, nil
		},
	}}
}
