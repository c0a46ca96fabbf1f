package terrain

// updateStitching aligns the edges of visible tiles with their neighbours
// so terrain at different subdivision levels meets without T-junction
// cracks. A neighbour only participates when it is visible, not disposed,
// and its elevation texture has loaded; the material records the level each
// edge must collapse down to.
func (m *Map) updateStitching(elevationLayerID string) {
	m.forEachTile(func(t *TileMesh) {
		if !t.NodeVisible() || !t.IsLeaf() {
			return
		}
		for d := 0; d < 8; d++ {
			n := m.findStitchNeighbour(t, Direction(d), elevationLayerID)
			if n == nil {
				t.material.NeighbourLevels[d] = -1
				continue
			}
			t.material.NeighbourLevels[d] = n.level
		}
	})
}

// findStitchNeighbour looks for the neighbouring tile in the given
// direction, climbing to coarser levels when the same-level neighbour is
// absent. Only usable neighbours are returned.
func (m *Map) findStitchNeighbour(t *TileMesh, d Direction, elevationLayerID string) *TileMesh {
	off := directionOffsets[d]
	level, x, y := t.level, t.x+off[0], t.y+off[1]
	for level >= 0 {
		if n := m.index.Get(level, x, y); n != nil {
			if m.usableForStitching(n, elevationLayerID) {
				return n
			}
			return nil
		}
		level--
		x >>= 1
		y >>= 1
	}
	return nil
}

func (m *Map) usableForStitching(n *TileMesh, elevationLayerID string) bool {
	if n.Disposed() || !n.NodeVisible() {
		return false
	}
	if elevationLayerID == "" {
		return true
	}
	return n.material.TextureComplete(elevationLayerID) || n.material.HasTexture(elevationLayerID)
}
