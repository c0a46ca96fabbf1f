package features

import (
	"sync"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/terrastream/math3"
)

// spriteScaleFactor keeps a pixel-sized point constant on screen: the
// world-space sprite scale is factor * pointSize / spriteHeightPixels,
// recomputed in a pre-render hook.
const spriteScaleFactor = 0.75

// SpriteScale computes the world-space scale of a point sprite for the
// current viewport.
func SpriteScale(pointSize, spriteHeightPixels float64) float64 {
	if spriteHeightPixels <= 0 {
		return 0
	}
	return spriteScaleFactor * pointSize / spriteHeightPixels
}

// GeometryConverter materializes vector geometries as meshes. Materials are
// cached by style hash; point images are downloaded once per URL through an
// internal dedupe queue.
type GeometryConverter struct {
	materials *materialCache

	downloadMu sync.Mutex
	downloads  map[string][]*Material
	// FetchImage downloads a point sprite; nil leaves sprites hidden.
	FetchImage func(url string) ([]byte, error)
}

// NewGeometryConverter creates a converter with an empty material cache.
func NewGeometryConverter() *GeometryConverter {
	return &GeometryConverter{
		materials: newMaterialCache(),
		downloads: make(map[string][]*Material),
	}
}

// MaterialCount returns the number of unique materials created so far.
func (g *GeometryConverter) MaterialCount() int { return g.materials.len() }

// Convert turns a feature's geometry into meshes under the given style.
func (g *GeometryConverter) Convert(f *Feature, style Style) []*Mesh {
	var out []*Mesh
	switch geom := f.Geometry.(type) {
	case orb.Point:
		out = append(out, g.convertPoints(f, style, []orb.Point{geom})...)
	case orb.MultiPoint:
		out = append(out, g.convertPoints(f, style, geom)...)
	case orb.LineString:
		if m := g.convertLine(f, style, geom); m != nil {
			out = append(out, m)
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			if m := g.convertLine(f, style, ls); m != nil {
				out = append(out, m)
			}
		}
	case orb.Polygon:
		out = append(out, g.convertPolygon(f, style, geom)...)
	case orb.MultiPolygon:
		for _, poly := range geom {
			out = append(out, g.convertPolygon(f, style, poly)...)
		}
	}
	for _, m := range out {
		m.computeBounds()
	}
	return out
}

func (g *GeometryConverter) convertPoints(f *Feature, style Style, pts []orb.Point) []*Mesh {
	mat := g.materials.get(MaterialPoint, style)
	if style.PointImageURL != "" {
		g.requestImage(style.PointImageURL, mat)
	}
	m := &Mesh{Kind: MeshPoint, Material: mat, FeatureID: f.ID()}
	for _, p := range pts {
		m.Positions = append(m.Positions, float32(p[0]), float32(p[1]), 0)
	}
	return []*Mesh{m}
}

// convertLine builds the thick-line representation: each segment vertex is
// duplicated with side offsets -1/+1 so the shader can widen the line in
// pixels or world units.
func (g *GeometryConverter) convertLine(f *Feature, style Style, ls orb.LineString) *Mesh {
	if len(ls) < 2 {
		return nil
	}
	mat := g.materials.get(MaterialLine, style)
	m := &Mesh{Kind: MeshLine, Material: mat, FeatureID: f.ID()}

	for _, p := range ls {
		m.Positions = append(m.Positions,
			float32(p[0]), float32(p[1]), 0,
			float32(p[0]), float32(p[1]), 0,
		)
		m.LineOffsets = append(m.LineOffsets, -1, 1)
	}
	// Two triangles per segment over the duplicated strip.
	for i := 0; i < len(ls)-1; i++ {
		a := uint32(i * 2)
		m.Indices = append(m.Indices, a, a+1, a+2, a+2, a+1, a+3)
	}
	return m
}

func (g *GeometryConverter) convertPolygon(f *Feature, style Style, poly orb.Polygon) []*Mesh {
	var out []*Mesh

	verts, tris := triangulate(poly)
	if len(tris) > 0 {
		kind := MaterialSurface
		if style.Extrude != 0 {
			kind = MaterialSurfaceFlatShaded
		}
		m := &Mesh{Kind: MeshSurface, Material: g.materials.get(kind, style), FeatureID: f.ID()}

		top := float32(style.Extrude)
		for _, v := range verts {
			m.Positions = append(m.Positions, float32(v[0]), float32(v[1]), top)
			m.Normals = append(m.Normals, 0, 0, 1)
		}
		for _, idx := range tris {
			m.Indices = append(m.Indices, uint32(idx))
		}
		out = append(out, m)

		if style.Extrude != 0 {
			out = append(out, g.extrudeWalls(f, style, poly))
		}
	}

	// Ring outlines share the thick-line path.
	if style.StrokeWidth > 0 {
		for _, ring := range poly {
			if lm := g.convertLine(f, style, orb.LineString(ring)); lm != nil {
				out = append(out, lm)
			}
		}
	}
	return out
}

// extrudeWalls builds the side faces with duplicated vertices so the flat
// shading stays faceted.
func (g *GeometryConverter) extrudeWalls(f *Feature, style Style, poly orb.Polygon) *Mesh {
	mat := g.materials.get(MaterialSurfaceFlatShaded, style)
	m := &Mesh{Kind: MeshSurface, Material: mat, FeatureID: f.ID()}
	top := style.Extrude

	for _, ring := range poly {
		pts := openRing(ring)
		for i := range pts {
			a := pts[i]
			b := pts[(i+1)%len(pts)]

			// Per-face normal.
			edge := math3.Vec3(b[0]-a[0], b[1]-a[1], 0)
			n := edge.Cross(math3.Vec3(0, 0, 1)).Normalize()

			base := uint32(len(m.Positions) / 3)
			quad := [][3]float64{
				{a[0], a[1], 0}, {b[0], b[1], 0},
				{a[0], a[1], top}, {b[0], b[1], top},
			}
			for _, q := range quad {
				m.Positions = append(m.Positions, float32(q[0]), float32(q[1]), float32(q[2]))
				m.Normals = append(m.Normals, float32(n.X), float32(n.Y), float32(n.Z))
			}
			m.Indices = append(m.Indices, base, base+1, base+2, base+2, base+1, base+3)
		}
	}
	return m
}

// requestImage downloads a sprite texture once per URL; every material
// waiting on the same URL flips TextureReady together.
func (g *GeometryConverter) requestImage(url string, mat *Material) {
	if mat.TextureReady || g.FetchImage == nil {
		return
	}
	g.downloadMu.Lock()
	waiting, inFlight := g.downloads[url]
	g.downloads[url] = append(waiting, mat)
	g.downloadMu.Unlock()
	if inFlight {
		return
	}

	go func() {
		_, err := g.FetchImage(url)

		g.downloadMu.Lock()
		mats := g.downloads[url]
		delete(g.downloads, url)
		g.downloadMu.Unlock()

		if err != nil {
			return
		}
		for _, m := range mats {
			m.TextureReady = true
		}
	}()
}
