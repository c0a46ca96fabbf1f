package layer

import (
	"context"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
)

// TargetState is the paint slot lifecycle.
type TargetState int

const (
	// TargetPending means a (re-)composite is needed.
	TargetPending TargetState = iota
	// TargetProcessing means fetches or a composite are in flight.
	TargetProcessing
	// TargetComplete means the texture holds all the data it will get.
	TargetComplete
)

// Target is the per-node paint slot a layer maintains: the pooled render
// target, the paint extent with its pitch back to the node's geometry, and
// the fetch bookkeeping.
type Target struct {
	node Node

	// geometryExtent is the node's extent; extent is the margin-enlarged
	// paint extent.
	geometryExtent geo.Extent
	extent         geo.Extent
	pitch          geo.OffsetScale
	width, height  int

	imageIDs []string
	rt       *render.Target
	state    TargetState

	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	paintCount int

	unsubscribe func()
}

// State returns the slot state.
func (t *Target) State() TargetState { return t.state }

// PaintCount returns how many composites have landed in the slot.
func (t *Target) PaintCount() int { return t.paintCount }

// Extent returns the paint extent.
func (t *Target) Extent() geo.Extent { return t.extent }

// Pitch returns the mapping from the node's geometric extent into the paint
// extent.
func (t *Target) Pitch() geo.OffsetScale { return t.pitch }

// Context returns the cancellation context of the current fetch generation.
func (t *Target) Context() context.Context { return t.ctx }

// newGeneration opens a fresh cancellation scope, aborting the previous one.
func (t *Target) newGeneration() {
	if t.cancel != nil {
		t.cancel()
	}
	t.generation++
	t.ctx, t.cancel = context.WithCancel(context.Background())
}

// Reset aborts in-flight fetches and sends the slot back to Pending unless
// it already completed. The generation bump invalidates any continuation
// still racing toward the slot.
func (t *Target) Reset() {
	if t.cancel != nil {
		t.cancel()
	}
	t.generation++
	if t.state != TargetComplete {
		t.state = TargetPending
	}
}

// ForceRepaint sends even a completed slot back to Pending; used when the
// layer is cleared or the GPU context is restored.
func (t *Target) ForceRepaint() {
	if t.cancel != nil {
		t.cancel()
	}
	t.generation++
	t.state = TargetPending
	t.paintCount = 0
}

// dispose aborts work and releases the render target back to the pool.
// Safe to call more than once.
func (t *Target) dispose(pool *render.TargetPool) {
	t.generation++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	if t.rt != nil {
		pool.Release(t.rt)
		t.rt = nil
	}
}
