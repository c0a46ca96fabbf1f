// Package pointcloud implements the point cloud entity: a per-node state
// machine streaming point data from an external source, SSE-driven
// traversal, attribute hot-swap, and a point budget with decimation.
package pointcloud

import (
	"context"
	"fmt"
	"time"
)

// NodeState is the lifecycle of one source node inside the engine.
type NodeState int

const (
	// StateEmpty has no data mounted.
	StateEmpty NodeState = iota
	// StateHidden keeps the mesh mounted but not drawn, for fast re-show.
	StateHidden
	// StateLoading has a fetch in flight.
	StateLoading
	// StateDisplayed draws the mesh.
	StateDisplayed
)

func (s NodeState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateHidden:
		return "hidden"
	case StateLoading:
		return "loading"
	}
	return "displayed"
}

// legalTransitions is the transition table; a self-transition of loading is
// legal (attribute swap re-issues the fetch).
var legalTransitions = map[NodeState][]NodeState{
	StateEmpty:     {StateLoading},
	StateLoading:   {StateEmpty, StateDisplayed, StateLoading},
	StateDisplayed: {StateHidden, StateLoading},
	StateHidden:    {StateDisplayed, StateLoading, StateEmpty},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to NodeState) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// NodeInfo is the engine-owned record attached to each source node.
type NodeInfo struct {
	state          NodeState
	stateTimestamp time.Time

	cancel context.CancelFunc
	ctx    context.Context

	mesh *PointMesh

	// positionDirty forces the next load to refetch positions even though
	// a mesh exists.
	positionDirty bool

	shouldBeVisible bool
}

// State returns the current state.
func (n *NodeInfo) State() NodeState { return n.state }

// StateTimestamp returns when the state last changed.
func (n *NodeInfo) StateTimestamp() time.Time { return n.stateTimestamp }

// Mesh returns the mounted mesh, nil in empty state.
func (n *NodeInfo) Mesh() *PointMesh { return n.mesh }

// transition moves to a new state, enforcing the table. The caller applies
// the post-transition effects.
func (n *NodeInfo) transition(to NodeState, now time.Time) error {
	if !CanTransition(n.state, to) {
		return fmt.Errorf("pointcloud: illegal transition %s -> %s", n.state, to)
	}
	n.state = to
	n.stateTimestamp = now
	return nil
}

// abort cancels the pending fetch, if any.
func (n *NodeInfo) abort() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
		n.ctx = nil
	}
}

// newFetchContext aborts any prior fetch and opens a fresh cancellation
// scope for the next one.
func (n *NodeInfo) newFetchContext() context.Context {
	n.abort()
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n.ctx
}
