package pointcloud

import (
	"context"
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

// fakeNode is an in-memory hierarchy node.
type fakeNode struct {
	id       string
	depth    int
	volume   math3.Box3
	geomErr  float64
	hasData  bool
	children []*fakeNode
}

func (f *fakeNode) ID() string              { return f.id }
func (f *fakeNode) Depth() int              { return f.depth }
func (f *fakeNode) Volume() math3.Box3      { return f.volume }
func (f *fakeNode) Center() math3.Vector3   { return f.volume.Center() }
func (f *fakeNode) GeometricError() float64 { return f.geomErr }
func (f *fakeNode) HasData() bool           { return f.hasData }
func (f *fakeNode) Children() []SourceNode {
	out := make([]SourceNode, len(f.children))
	for i, c := range f.children {
		out[i] = c
	}
	return out
}

// fakeSource records data requests and serves canned points.
type fakeSource struct {
	root   *fakeNode
	points int

	mu       sync.Mutex
	requests []NodeDataRequest
	block    chan struct{} // non-nil blocks GetNodeData until closed
}

func (s *fakeSource) Initialize(ctx context.Context) error { return nil }
func (s *fakeSource) GetHierarchy(ctx context.Context) (SourceNode, error) {
	return s.root, nil
}
func (s *fakeSource) GetMetadata(ctx context.Context) (Metadata, error) {
	return Metadata{
		Volume: s.root.volume,
		Attributes: []Attribute{
			{Name: "color", Interpretation: InterpretationColor},
			{Name: "classification", Interpretation: InterpretationClassification},
		},
	}, nil
}

func (s *fakeSource) GetNodeData(ctx context.Context, req NodeDataRequest) (*NodeData, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := &NodeData{Scale: 1}
	if req.Position {
		data.Position = make([]float32, s.points*3)
	}
	if req.Attribute != "" {
		data.Attribute = make([]float32, s.points)
	}
	return data, nil
}

func (s *fakeSource) requestLog() []NodeDataRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeDataRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func twoLevelSource(points int) *fakeSource {
	child := func(id string, minX, minY float64) *fakeNode {
		return &fakeNode{
			id: id, depth: 1, geomErr: 5, hasData: true,
			volume: math3.NewBox3(math3.Vec3(minX, minY, 0), math3.Vec3(minX+100, minY+100, 50)),
		}
	}
	root := &fakeNode{
		id: "r", depth: 0, geomErr: 10, hasData: true,
		volume: math3.NewBox3(math3.Vec3(-100, -100, 0), math3.Vec3(100, 100, 50)),
		children: []*fakeNode{
			child("r0", -100, -100), child("r1", 0, -100),
			child("r2", -100, 0), child("r3", 0, 0),
		},
	}
	return &fakeSource{root: root, points: points}
}

func cloudSetup(t *testing.T, src Source, cfg Config) (*core.Instance, *PointCloud) {
	t.Helper()
	inst, err := core.NewInstance(core.InstanceConfig{CRS: geo.WebMercator, Width: 1000, Height: 1000})
	require.NoError(t, err)
	inst.View().Camera.FovY = math.Pi / 2

	cfg.Source = src
	pc, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, inst.Add(pc))
	return inst, pc
}

func aimAt(inst *core.Instance, dist float64) {
	inst.View().LookAt(math3.Vec3(0, 0, dist), math3.Vec3(0, 0, 0))
	inst.NotifyChange(nil, true)
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

func TestRootLoadsAndDisplays(t *testing.T) {
	src := twoLevelSource(100)
	inst, pc := cloudSetup(t, src, Config{})

	// Far away: the root is kept, children are not descended into.
	aimAt(inst, 5000)
	stepUntil(t, inst, func() bool {
		info := pc.Info("r")
		return info != nil && info.State() == StateDisplayed
	})

	info := pc.Info("r")
	require.NotNil(t, info.Mesh())
	assert.True(t, info.Mesh().Visible())
	assert.Equal(t, 100, info.Mesh().PointCount())

	for _, id := range []string{"r0", "r1", "r2", "r3"} {
		child := pc.Info(id)
		assert.True(t, child == nil || child.State() == StateEmpty, "child %s not loaded", id)
	}
}

func TestDescendsWhenClose(t *testing.T) {
	src := twoLevelSource(10)
	inst, pc := cloudSetup(t, src, Config{})

	// preSSE=500, root error 10: spacing at dist 500 is 10 > threshold.
	aimAt(inst, 400)
	stepUntil(t, inst, func() bool {
		displayed := 0
		for _, id := range []string{"r0", "r1", "r2", "r3"} {
			if info := pc.Info(id); info != nil && info.State() == StateDisplayed {
				displayed++
			}
		}
		return displayed == 4
	})
}

func TestInvisibleWhileLoadingGoesEmptyWithoutMesh(t *testing.T) {
	src := twoLevelSource(10)
	src.block = make(chan struct{})
	inst, pc := cloudSetup(t, src, Config{})

	aimAt(inst, 5000)
	stepUntil(t, inst, func() bool {
		info := pc.Info("r")
		return info != nil && info.State() == StateLoading
	})

	// Camera turns away: the whole cloud leaves the frustum.
	inst.View().LookAt(math3.Vec3(0, 0, 5000), math3.Vec3(0, 0, 10000))
	inst.NotifyChange(nil, true)
	inst.Loop().Step()

	info := pc.Info("r")
	require.NotNil(t, info)
	assert.Equal(t, StateEmpty, info.State())
	assert.Nil(t, info.Mesh(), "no mesh created for an aborted load")

	close(src.block)
	stepUntil(t, inst, func() bool { return info.State() == StateEmpty && info.Mesh() == nil })
}

func TestHiddenHysteresisThenCleanup(t *testing.T) {
	src := twoLevelSource(10)
	inst, pc := cloudSetup(t, src, Config{
		CleanupDelay: 50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})

	aimAt(inst, 5000)
	stepUntil(t, inst, func() bool {
		info := pc.Info("r")
		return info != nil && info.State() == StateDisplayed
	})
	info := pc.Info("r")

	// Look away: displayed -> hidden, mesh stays mounted.
	inst.View().LookAt(math3.Vec3(0, 0, 5000), math3.Vec3(0, 0, 10000))
	inst.NotifyChange(nil, true)
	inst.Loop().Step()
	require.Equal(t, StateHidden, info.State())
	assert.NotNil(t, info.Mesh(), "recently hidden stays mounted")

	// After the cleanup delay the poll empties it and destroys the mesh.
	stepUntil(t, inst, func() bool {
		inst.NotifyChange(nil, false)
		return info.State() == StateEmpty
	})
	assert.Nil(t, info.Mesh(), "mesh destroyed on empty")
}

func TestAttributeHotSwapKeepsPositions(t *testing.T) {
	src := twoLevelSource(10)
	inst, pc := cloudSetup(t, src, Config{ActiveAttribute: "color"})

	aimAt(inst, 5000)
	stepUntil(t, inst, func() bool {
		info := pc.Info("r")
		return info != nil && info.State() == StateDisplayed
	})

	ctx := &core.Context{Instance: inst, View: inst.View(), Queue: inst.Queue(), Now: time.Now()}
	pc.SetActiveAttribute(ctx, "classification")

	info := pc.Info("r")
	assert.Equal(t, StateLoading, info.State())

	stepUntil(t, inst, func() bool { return info.State() == StateDisplayed })
	assert.Equal(t, "classification", info.Mesh().Material().ActiveAttribute)

	// The swap fetch must not request positions.
	log := src.requestLog()
	last := log[len(log)-1]
	assert.Equal(t, "classification", last.Attribute)
	assert.False(t, last.Position, "attribute swap does not reload positions")
}

func TestPointBudgetDecimation(t *testing.T) {
	src := twoLevelSource(1000)
	inst, pc := cloudSetup(t, src, Config{PointBudget: 300})

	aimAt(inst, 5000)
	stepUntil(t, inst, func() bool {
		info := pc.Info("r")
		return info != nil && info.State() == StateDisplayed
	})
	inst.Loop().Step() // budget pass

	// 1000 points over a 300 budget: decimation floor(1000/300) = 3.
	assert.Equal(t, 3, pc.Decimation())
	assert.Equal(t, 3, pc.Info("r").Mesh().Material().Decimation)
}

func TestNoBudgetKeepsUserDecimation(t *testing.T) {
	src := twoLevelSource(1000)
	inst, pc := cloudSetup(t, src, Config{Decimation: 7})

	aimAt(inst, 5000)
	stepUntil(t, inst, func() bool {
		info := pc.Info("r")
		return info != nil && info.State() == StateDisplayed
	})
	inst.Loop().Step()
	assert.Equal(t, 7, pc.Decimation())
}
