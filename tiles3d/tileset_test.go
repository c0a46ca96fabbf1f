package tiles3d

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/math3"
)

func TestClassifyContent(t *testing.T) {
	assert.Equal(t, ContentTileset, ClassifyContent([]byte(`{"asset":{}}`)))
	assert.Equal(t, ContentB3DM, ClassifyContent([]byte("b3dm\x01\x00\x00\x00")))
	assert.Equal(t, ContentPNTS, ClassifyContent([]byte("pnts\x01\x00\x00\x00")))
	assert.Equal(t, ContentUnknown, ClassifyContent([]byte("glTF")))
	assert.Equal(t, ContentUnknown, ClassifyContent(nil))
}

func TestParseTilesetRejectsMissingRoot(t *testing.T) {
	_, err := ParseTileset([]byte(`{"asset":{"version":"1.0"},"geometricError":10}`))
	assert.Error(t, err)

	_, err = ParseTileset([]byte("not json"))
	assert.Error(t, err)
}

func TestBoundingVolumeAABB(t *testing.T) {
	box := BoundingVolume{Box: []float64{0, 0, 0, 10, 0, 0, 0, 5, 0, 0, 0, 2}}
	aabb, ok := box.AABB()
	require.True(t, ok)
	assert.Equal(t, math3.Vec3(-10, -5, -2), aabb.Min)
	assert.Equal(t, math3.Vec3(10, 5, 2), aabb.Max)

	sphere := BoundingVolume{Sphere: []float64{1, 2, 3, 4}}
	aabb, ok = sphere.AABB()
	require.True(t, ok)
	assert.Equal(t, math3.Vec3(-3, -2, -1), aabb.Min)

	_, ok = (&BoundingVolume{}).AABB()
	assert.False(t, ok)
}

func TestRefineInheritance(t *testing.T) {
	tile := &Tile{}
	assert.Equal(t, RefineAdd, tile.Refine(RefineAdd), "inherits parent default")
	tile.RefineRaw = "REPLACE"
	assert.Equal(t, RefineReplace, tile.Refine(RefineAdd))
}

// fakeFetcher serves canned documents by ref.
type fakeFetcher struct {
	mu   sync.Mutex
	docs map[string][]byte
	log  []string
}

func (f *fakeFetcher) fetch(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	f.log = append(f.log, ref)
	doc, ok := f.docs[ref]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("404: %s", ref)
	}
	return doc, nil
}

func testTilesetJSON(t *testing.T, refine string) []byte {
	t.Helper()
	ts := map[string]any{
		"asset":          map[string]any{"version": "1.0"},
		"geometricError": 100,
		"root": map[string]any{
			"boundingVolume": map[string]any{"box": []float64{0, 0, 0, 100, 0, 0, 0, 100, 0, 0, 0, 10}},
			"geometricError": 50,
			"refine":         refine,
			"content":        map[string]any{"uri": "root.b3dm"},
			"children": []any{
				map[string]any{
					"boundingVolume": map[string]any{"box": []float64{-50, 0, 0, 50, 0, 0, 0, 100, 0, 0, 0, 10}},
					"geometricError": 0,
					"content":        map[string]any{"uri": "child0.b3dm"},
				},
				map[string]any{
					"boundingVolume": map[string]any{"box": []float64{50, 0, 0, 50, 0, 0, 0, 100, 0, 0, 0, 10}},
					"geometricError": 0,
					"content":        map[string]any{"uri": "child1.b3dm"},
				},
			},
		},
	}
	data, err := json.Marshal(ts)
	require.NoError(t, err)
	return data
}

func tilesSetup(t *testing.T, refine string) (*core.Instance, *Tiles3D, *fakeFetcher) {
	t.Helper()
	f := &fakeFetcher{docs: map[string][]byte{
		"https://tiles.test/tileset.json": testTilesetJSON(t, refine),
		"https://tiles.test/root.b3dm":    []byte("b3dm\x01rootpayload"),
		"https://tiles.test/child0.b3dm":  []byte("b3dm\x01child0"),
		"https://tiles.test/child1.b3dm":  []byte("b3dm\x01child1"),
	}}

	inst, err := core.NewInstance(core.InstanceConfig{CRS: geo.WebMercator, Width: 1000, Height: 1000})
	require.NoError(t, err)
	inst.View().Camera.FovY = math.Pi / 2

	e, err := New(Config{URL: "https://tiles.test/tileset.json", Fetch: f.fetch})
	require.NoError(t, err)
	require.NoError(t, inst.Add(e))
	return inst, e, f
}

func stepUntil(t *testing.T, inst *core.Instance, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		inst.Loop().Step()
		time.Sleep(time.Millisecond)
	}
}

func countReady(e *Tiles3D) (total, visible int) {
	e.ForEachReadyContent(func(kind ContentKind, payload []byte, vis bool) {
		total++
		if vis {
			visible++
		}
	})
	return
}

func TestReplaceRefinementSwapsParentForChildren(t *testing.T) {
	inst, e, _ := tilesSetup(t, "REPLACE")

	// Close camera: the root's error projects large, children refine in.
	inst.View().LookAt(math3.Vec3(0, 0, 120), math3.Vec3(0, 0, 0))
	inst.NotifyChange(nil, true)

	stepUntil(t, inst, func() bool {
		total, _ := countReady(e)
		return total == 3
	})
	// Children ready: the parent's content is hidden.
	stepUntil(t, inst, func() bool {
		_, visible := countReady(e)
		return visible == 2
	})
}

func TestAddRefinementKeepsParentVisible(t *testing.T) {
	inst, e, _ := tilesSetup(t, "ADD")

	inst.View().LookAt(math3.Vec3(0, 0, 120), math3.Vec3(0, 0, 0))
	inst.NotifyChange(nil, true)

	stepUntil(t, inst, func() bool {
		_, visible := countReady(e)
		return visible == 3
	})
}

func TestFarCameraKeepsRootOnly(t *testing.T) {
	inst, e, f := tilesSetup(t, "REPLACE")

	// preSSE=500, error 50 at distance 50000: sse=0.5 < 16.
	inst.View().LookAt(math3.Vec3(0, 0, 50000), math3.Vec3(0, 0, 0))
	inst.NotifyChange(nil, true)

	stepUntil(t, inst, func() bool {
		total, visible := countReady(e)
		return total == 1 && visible == 1
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.log {
		assert.NotContains(t, ref, "child", "children never requested")
	}
}

func TestNestedTilesetExpansion(t *testing.T) {
	nested := map[string]any{
		"asset":          map[string]any{"version": "1.0"},
		"geometricError": 10,
		"root": map[string]any{
			"boundingVolume": map[string]any{"box": []float64{0, 0, 0, 10, 0, 0, 0, 10, 0, 0, 0, 1}},
			"geometricError": 0,
			"content":        map[string]any{"uri": "leaf.pnts"},
		},
	}
	nestedJSON, err := json.Marshal(nested)
	require.NoError(t, err)

	rootDoc := map[string]any{
		"asset":          map[string]any{"version": "1.0"},
		"geometricError": 100,
		"root": map[string]any{
			"boundingVolume": map[string]any{"box": []float64{0, 0, 0, 100, 0, 0, 0, 100, 0, 0, 0, 10}},
			"geometricError": 50,
			"refine":         "REPLACE",
			"content":        map[string]any{"uri": "sub/tileset.json"},
		},
	}
	rootJSON, err := json.Marshal(rootDoc)
	require.NoError(t, err)

	f := &fakeFetcher{docs: map[string][]byte{
		"https://tiles.test/tileset.json":     rootJSON,
		"https://tiles.test/sub/tileset.json": nestedJSON,
		"https://tiles.test/sub/leaf.pnts":    []byte("pnts\x01leafdata"),
	}}

	inst, err := core.NewInstance(core.InstanceConfig{CRS: geo.WebMercator, Width: 1000, Height: 1000})
	require.NoError(t, err)
	inst.View().Camera.FovY = math.Pi / 2

	e, err := New(Config{URL: "https://tiles.test/tileset.json", Fetch: f.fetch})
	require.NoError(t, err)
	require.NoError(t, inst.Add(e))

	inst.View().LookAt(math3.Vec3(0, 0, 120), math3.Vec3(0, 0, 0))
	inst.NotifyChange(nil, true)

	// The nested tileset's leaf payload eventually loads, resolved
	// relative to the nested document.
	stepUntil(t, inst, func() bool {
		found := false
		e.ForEachReadyContent(func(kind ContentKind, payload []byte, vis bool) {
			if kind == ContentPNTS {
				found = true
			}
		})
		return found
	})
}

func TestMissingRootTilesetIsDefinitive(t *testing.T) {
	f := &fakeFetcher{docs: map[string][]byte{}}
	inst, err := core.NewInstance(core.InstanceConfig{CRS: geo.WebMercator})
	require.NoError(t, err)

	e, err := New(Config{URL: "https://tiles.test/missing.json", Fetch: f.fetch})
	require.NoError(t, err)
	assert.Error(t, inst.Add(e), "preprocess surfaces the fetch failure")
}
