package source

import (
	"context"
	"fmt"
	"image/color"

	"github.com/aquilax/go-perlin"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
)

// NoiseMode selects what a Noise source produces.
type NoiseMode int

const (
	// NoiseColor produces grayscale RGBA imagery.
	NoiseColor NoiseMode = iota
	// NoiseElevation produces RG float elevation with a full valid mask.
	NoiseElevation
)

// NoiseConfig configures a procedural noise source.
type NoiseConfig struct {
	// Extent bounds the source; a zero extent covers the whole Mercator
	// square.
	Extent geo.Extent
	// Mode selects color imagery or elevation output.
	Mode NoiseMode
	// Seed fixes the noise field; equal seeds produce equal images.
	Seed int64
	// Alpha, Beta and Octaves are the perlin parameters; zero values use
	// 2, 2 and 3.
	Alpha, Beta float64
	Octaves     int
	// MinValue and MaxValue scale elevation output; both zero means
	// [0, 1000].
	MinValue, MaxValue float64
	// Frequency is the feature size in source units; zero derives one from
	// the extent width.
	Frequency float64
}

// Noise is a synchronous procedural source built on perlin noise. It backs
// tests, demo imagery, and elevation fallback preloads.
type Noise struct {
	cfg   NoiseConfig
	noise *perlin.Perlin
}

// NewNoise creates a noise source.
func NewNoise(cfg NoiseConfig) *Noise {
	if !cfg.Extent.IsValid() || cfg.Extent.Width() == 0 {
		cfg.Extent = MercatorExtent()
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = 2
	}
	if cfg.Beta == 0 {
		cfg.Beta = 2
	}
	if cfg.Octaves == 0 {
		cfg.Octaves = 3
	}
	if cfg.MinValue == 0 && cfg.MaxValue == 0 {
		cfg.MaxValue = 1000
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = cfg.Extent.Width() / 16
	}
	return &Noise{
		cfg:   cfg,
		noise: perlin.NewPerlin(cfg.Alpha, cfg.Beta, int32(cfg.Octaves), cfg.Seed),
	}
}

func (n *Noise) ID() string {
	return fmt.Sprintf("noise:%d:%d", n.cfg.Mode, n.cfg.Seed)
}

func (n *Noise) Initialize(ctx context.Context) error { return nil }
func (n *Noise) CRS() string                          { return n.cfg.Extent.CRS }
func (n *Noise) Extent() geo.Extent                   { return n.cfg.Extent }
func (n *Noise) Synchronous() bool                    { return true }

// MinMax implements ElevationProvider.
func (n *Noise) MinMax() (float64, float64, bool) {
	if n.cfg.Mode != NoiseElevation {
		return 0, 0, false
	}
	return n.cfg.MinValue, n.cfg.MaxValue, true
}

// GetImages produces one image covering the clipped extent.
func (n *Noise) GetImages(extent geo.Extent, width, height int) []Request {
	clipped, ok := extent.Intersection(n.cfg.Extent)
	if !ok || width <= 0 || height <= 0 {
		return nil
	}
	id := fmt.Sprintf("%s/%s/%dx%d", n.ID(), clipped, width, height)
	return []Request{{
		ID: id,
		Fetch: func(ctx context.Context) (*Image, error) {
			return n.render(id, clipped, width, height), nil
		},
	}}
}

// at samples normalized noise in [0, 1] at source coordinates.
func (n *Noise) at(x, y float64) float64 {
	v := n.noise.Noise2D(x/n.cfg.Frequency, y/n.cfg.Frequency)
	// Noise2D is in roughly [-1, 1].
	v = (v + 1) / 2
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

// ElevationAt samples the elevation field at source coordinates.
func (n *Noise) ElevationAt(x, y float64) float64 {
	return n.cfg.MinValue + n.at(x, y)*(n.cfg.MaxValue-n.cfg.MinValue)
}

func (n *Noise) render(id string, extent geo.Extent, width, height int) *Image {
	img := &Image{ID: id, Extent: extent}
	dx := extent.Width() / float64(width)
	dy := extent.Height() / float64(height)

	if n.cfg.Mode == NoiseElevation {
		tex := render.NewTexture(width, height, render.FormatRG, render.TypeFloat32)
		min, max := n.cfg.MaxValue, n.cfg.MinValue
		for py := 0; py < height; py++ {
			y := extent.North - (float64(py)+0.5)*dy
			for px := 0; px < width; px++ {
				x := extent.West + (float64(px)+0.5)*dx
				v := n.ElevationAt(x, y)
				i := (py*width + px) * 2
				tex.Floats[i] = float32(v)
				tex.Floats[i+1] = 1 // valid
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
		}
		img.Texture = tex
		img.Min, img.Max = min, max
		return img
	}

	tex := render.NewTexture(width, height, render.FormatRGBA, render.TypeUnsignedByte)
	for py := 0; py < height; py++ {
		y := extent.North - (float64(py)+0.5)*dy
		for px := 0; px < width; px++ {
			x := extent.West + (float64(px)+0.5)*dx
			g := uint8(n.at(x, y) * 255)
			i := (py*width + px) * 4
			c := color.NRGBA{R: g, G: g, B: g, A: 255}
			tex.Pixels[i] = c.R
			tex.Pixels[i+1] = c.G
			tex.Pixels[i+2] = c.B
			tex.Pixels[i+3] = c.A
		}
	}
	img.Texture = tex
	return img
}
