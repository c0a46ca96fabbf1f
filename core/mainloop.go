package core

import (
	"sync"
	"time"
)

// FrameStats are per-frame counters surfaced to the progress UI and the
// maintenance CLI.
type FrameStats struct {
	Frame        uint64
	UpdatedNodes int
	PrunedNodes  int
	Entities     int

	// PendingRequests and RunningRequests snapshot the request queue at the
	// end of the frame; CacheEntries the instance cache.
	PendingRequests int
	RunningRequests int
	CacheEntries    int
}

// MainLoop coalesces change notifications and drives the two-phase entity
// traversal: PreUpdate -> Update (depth first) -> PostUpdate -> render.
type MainLoop struct {
	instance *Instance

	mu          sync.Mutex
	changes     *ChangeSet
	needsRedraw bool
	scheduled   bool
	posted      []func()

	frame uint64
	stats FrameStats
	now   func() time.Time
}

func newMainLoop(instance *Instance) *MainLoop {
	return &MainLoop{
		instance: instance,
		changes:  NewChangeSet(),
		now:      time.Now,
	}
}

// SetClock overrides the frame time source, for tests.
func (l *MainLoop) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// ScheduleUpdate coalesces a change notification into the next frame. A nil
// source marks a global change (camera moved). When immediate is set the
// frame runs synchronously before returning.
func (l *MainLoop) ScheduleUpdate(source any, needsRedraw, immediate bool) {
	l.mu.Lock()
	l.changes.Add(source)
	l.needsRedraw = l.needsRedraw || needsRedraw
	l.scheduled = true
	l.mu.Unlock()

	if immediate {
		l.Step()
	}
}

// Post queues fn to run at the start of the next frame, on the update
// goroutine. Async completions use this to re-enter the cooperative model.
func (l *MainLoop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.scheduled = true
	l.mu.Unlock()
}

// NeedsFrame reports whether a change or continuation is pending.
func (l *MainLoop) NeedsFrame() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scheduled
}

// Frame returns the number of completed frames.
func (l *MainLoop) Frame() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame
}

// Stats returns the counters of the last completed frame.
func (l *MainLoop) Stats() FrameStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Step runs one frame: drain posted continuations, collect the change set,
// walk every entity, then hand the scene to the renderer.
func (l *MainLoop) Step() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	changes := l.changes
	l.changes = NewChangeSet()
	l.needsRedraw = false
	l.scheduled = false
	l.frame++
	frame := l.frame
	now := l.now()
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}

	inst := l.instance
	ctx := inst.newContext(frame, now)
	stats := FrameStats{Frame: frame, Entities: len(inst.entities)}

	ctx.View.Refresh()

	for _, ent := range inst.entities {
		if !ent.Visible() {
			continue
		}
		roots := ent.PreUpdate(ctx, changes)
		for _, root := range roots {
			l.walk(ctx, ent, root, &stats)
		}
	}
	for _, ent := range inst.entities {
		if ent.Visible() {
			ent.PostUpdate(ctx)
		}
	}

	if inst.renderer != nil {
		inst.renderer.Render(inst, &ctx.View.Camera)
	}

	stats.PendingRequests = inst.queue.Pending()
	stats.RunningRequests = inst.queue.Running()
	stats.CacheEntries = inst.cache.Len()

	l.mu.Lock()
	l.stats = stats
	l.mu.Unlock()
}

func (l *MainLoop) walk(ctx *Context, ent Entity, node Node, stats *FrameStats) {
	children := ent.Update(ctx, node)
	stats.UpdatedNodes++
	if children == nil {
		stats.PrunedNodes++
		return
	}
	for _, child := range children {
		l.walk(ctx, ent, child, stats)
	}
}

// RunUntilIdle steps frames until no work is pending or maxFrames is
// reached. Returns the number of frames run. Used by headless tooling and
// tests.
func (l *MainLoop) RunUntilIdle(maxFrames int) int {
	frames := 0
	for frames < maxFrames {
		l.Step()
		frames++
		if !l.NeedsFrame() && !l.instance.anyLoading() {
			break
		}
		if !l.NeedsFrame() {
			// Loading but nothing posted yet: yield to the fetch
			// goroutines before the next frame.
			time.Sleep(time.Millisecond)
		}
	}
	return frames
}
