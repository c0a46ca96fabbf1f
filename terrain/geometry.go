package terrain

import "sync"

// TileGeometry is the shared vertex grid of all tiles with the same segment
// count: positions are normalized [0,1]² and displaced by the material, so
// one geometry serves every tile of a level.
type TileGeometry struct {
	Segments int
	// Positions holds (u, v) pairs row-major, (Segments+1)² vertices.
	Positions []float32
	// Indices triangulates the grid, two triangles per cell.
	Indices []uint32
}

// geometryCache shares geometries by segment count.
type geometryCache struct {
	mu    sync.Mutex
	byseg map[int]*TileGeometry
}

func newGeometryCache() *geometryCache {
	return &geometryCache{byseg: make(map[int]*TileGeometry)}
}

func (c *geometryCache) get(segments int) *TileGeometry {
	if segments < 1 {
		segments = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.byseg[segments]; ok {
		return g
	}
	g := buildTileGeometry(segments)
	c.byseg[segments] = g
	return g
}

func buildTileGeometry(segments int) *TileGeometry {
	n := segments + 1
	g := &TileGeometry{
		Segments:  segments,
		Positions: make([]float32, 0, n*n*2),
		Indices:   make([]uint32, 0, segments*segments*6),
	}
	for row := 0; row < n; row++ {
		v := float32(row) / float32(segments)
		for col := 0; col < n; col++ {
			u := float32(col) / float32(segments)
			g.Positions = append(g.Positions, u, v)
		}
	}
	for row := 0; row < segments; row++ {
		for col := 0; col < segments; col++ {
			a := uint32(row*n + col)
			b := a + 1
			c := a + uint32(n)
			d := c + 1
			g.Indices = append(g.Indices, a, c, b, b, c, d)
		}
	}
	return g
}
