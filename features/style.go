package features

import (
	"fmt"
	"hash/fnv"
	"image/color"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Style is the closed description of how converted geometry looks. Every
// field participates in the stable hash; sharing a hash means sharing one
// material instance, so mutating a shared material deliberately affects all
// consumers.
type Style struct {
	// Fill paints polygon interiors.
	FillColor   color.NRGBA
	FillOpacity float64

	// Stroke paints rings and line strings as thick lines.
	StrokeColor color.NRGBA
	StrokeWidth float64
	// WorldUnits interprets StrokeWidth in world units instead of pixels.
	WorldUnits bool

	// Extrude offsets polygons along +Z; zero disables extrusion.
	Extrude float64

	// PointSize is the sprite size in pixels; PointImageURL optionally
	// textures it.
	PointSize     float64
	PointImageURL string
}

// DefaultStyle is applied when a collection has neither a style nor a
// style function.
func DefaultStyle() Style {
	return Style{
		FillColor:   color.NRGBA{R: 128, G: 128, B: 128, A: 255},
		FillOpacity: 1,
		StrokeColor: color.NRGBA{R: 32, G: 32, B: 32, A: 255},
		StrokeWidth: 1,
		PointSize:   8,
	}
}

// StyleFunc resolves a per-feature style.
type StyleFunc func(f *Feature) Style

// Hash returns a stable textual hash of the style. The hash domain is
// closed: colors, numbers, booleans and the image URL. Two styles with
// equal hashes share one material.
func (s Style) Hash() string {
	parts := map[string]string{
		"fc": hexColor(s.FillColor),
		"fo": strconv.FormatFloat(s.FillOpacity, 'g', -1, 64),
		"sc": hexColor(s.StrokeColor),
		"sw": strconv.FormatFloat(s.StrokeWidth, 'g', -1, 64),
		"wu": strconv.FormatBool(s.WorldUnits),
		"ex": strconv.FormatFloat(s.Extrude, 'g', -1, 64),
		"ps": strconv.FormatFloat(s.PointSize, 'g', -1, 64),
		"pi": s.PointImageURL,
	}
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(parts[k])
		b.WriteByte(';')
	}
	h := fnv.New64a()
	h.Write([]byte(b.String()))
	return fmt.Sprintf("%016x", h.Sum64())
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// MaterialKind tags the shading families of converted meshes.
type MaterialKind int

const (
	// MaterialSurface is unshaded fill for flat polygons.
	MaterialSurface MaterialKind = iota
	// MaterialSurfaceFlatShaded lights extruded polygons per face.
	MaterialSurfaceFlatShaded
	// MaterialLine draws the thick-line representation.
	MaterialLine
	// MaterialPoint draws camera-facing sprites.
	MaterialPoint
)

// Material is a shared shading description; one instance per unique style
// hash and kind.
type Material struct {
	Kind  MaterialKind
	Style Style

	// SpriteScale is recomputed before each render for point materials so
	// a pixel-sized point keeps its screen size.
	SpriteScale float64

	// TextureReady flips once the point image arrived; sprites stay hidden
	// until then.
	TextureReady bool
}

// materialCache shares materials by (kind, style hash).
type materialCache struct {
	mu        sync.Mutex
	materials map[string]*Material
}

func newMaterialCache() *materialCache {
	return &materialCache{materials: make(map[string]*Material)}
}

func (c *materialCache) get(kind MaterialKind, s Style) *Material {
	key := fmt.Sprintf("%d/%s", kind, s.Hash())
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.materials[key]; ok {
		return m
	}
	m := &Material{Kind: kind, Style: s, TextureReady: s.PointImageURL == ""}
	c.materials[key] = m
	return m
}

func (c *materialCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.materials)
}
