package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/terrastream/cache"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
	"github.com/MeKo-Tech/terrastream/sched"
)

// InstanceConfig configures a new Instance.
type InstanceConfig struct {
	// CRS is the instance's working coordinate system; entities added to
	// the instance express their extents in it. Required.
	CRS string

	// Renderer is the consumed GPU driver. Optional: a nil renderer runs
	// the engine headless (tests, prefetch tooling).
	Renderer render.Renderer

	// Registry overrides the CRS registry; nil uses geo.DefaultRegistry.
	Registry *geo.Registry

	// Width and Height size the main camera viewport (pixels).
	Width, Height int

	// RequestLimit bounds concurrent source requests; zero uses
	// sched.DefaultConcurrency.
	RequestLimit int

	Logger *slog.Logger
}

// Instance is the top-level registry of entities. It owns the renderer, the
// main camera (View), and the per-instance services every pipeline shares.
type Instance struct {
	crs      string
	renderer render.Renderer
	view     *View
	loop     *MainLoop
	events   *Events

	queue   *sched.Queue
	cache   *cache.Cache
	targets *render.TargetPool
	crsReg  *geo.Registry

	entities []Entity
	byID     map[string]Entity

	logger   *slog.Logger
	disposed bool
}

// NewInstance creates an instance; the CRS must be registered.
func NewInstance(cfg InstanceConfig) (*Instance, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = geo.DefaultRegistry()
	}
	if cfg.CRS == "" || !reg.IsKnown(cfg.CRS) {
		return nil, fmt.Errorf("core: unknown instance CRS %q", cfg.CRS)
	}
	w, h := cfg.Width, cfg.Height
	if w <= 0 {
		w = 1024
	}
	if h <= 0 {
		h = 768
	}

	inst := &Instance{
		crs:      cfg.CRS,
		renderer: cfg.Renderer,
		view:     NewView(w, h),
		events:   NewEvents(),
		queue:    sched.NewQueue(cfg.RequestLimit),
		cache:    cache.New(),
		targets:  render.NewTargetPool(0),
		crsReg:   reg,
		byID:     make(map[string]Entity),
		logger:   cfg.Logger,
	}
	inst.loop = newMainLoop(inst)

	// A settled request means new data may be paintable: schedule a frame.
	inst.queue.OnSettle(func() {
		inst.loop.ScheduleUpdate(nil, true, false)
	})

	if cfg.Renderer != nil {
		cfg.Renderer.OnContextLost(inst.onContextLost)
		cfg.Renderer.OnContextRestored(inst.onContextRestored)
	}
	return inst, nil
}

// CRS returns the instance's working coordinate system.
func (i *Instance) CRS() string { return i.crs }

// View returns the main camera wrapper.
func (i *Instance) View() *View { return i.view }

// Loop returns the frame scheduler.
func (i *Instance) Loop() *MainLoop { return i.loop }

// Events returns the instance event bus.
func (i *Instance) Events() *Events { return i.events }

// Renderer returns the consumed GPU driver, nil when headless.
func (i *Instance) Renderer() render.Renderer { return i.renderer }

// Queue returns the shared request queue.
func (i *Instance) Queue() *sched.Queue { return i.queue }

// Targets returns the per-instance render target pool.
func (i *Instance) Targets() *render.TargetPool { return i.targets }

// Cache returns the per-instance TTL cache.
func (i *Instance) Cache() *cache.Cache { return i.cache }

// Add registers an entity and runs its Preprocess. Duplicate ids are a
// programmer error.
func (i *Instance) Add(ent Entity) error {
	if i.disposed {
		return fmt.Errorf("core: instance disposed")
	}
	if _, dup := i.byID[ent.ID()]; dup {
		return fmt.Errorf("core: duplicate entity id %q", ent.ID())
	}
	ctx := i.newContext(i.loop.Frame(), time.Now())
	if err := ent.Preprocess(ctx); err != nil {
		return fmt.Errorf("core: preprocess %s: %w", ent.ID(), err)
	}
	i.entities = append(i.entities, ent)
	i.byID[ent.ID()] = ent
	i.NotifyChange(nil, true)
	return nil
}

// Remove unregisters and disposes an entity.
func (i *Instance) Remove(id string) {
	ent, ok := i.byID[id]
	if !ok {
		return
	}
	delete(i.byID, id)
	for k, e := range i.entities {
		if e == ent {
			i.entities = append(i.entities[:k], i.entities[k+1:]...)
			break
		}
	}
	ent.Dispose()
	i.NotifyChange(nil, true)
}

// Entity returns the entity with the given id, nil when absent.
func (i *Instance) Entity(id string) Entity {
	return i.byID[id]
}

// Entities returns the registered entities in add order.
func (i *Instance) Entities() []Entity {
	out := make([]Entity, len(i.entities))
	copy(out, i.entities)
	return out
}

// NotifyChange coalesces a change notification into the next frame.
func (i *Instance) NotifyChange(source any, needsRedraw bool) {
	i.loop.ScheduleUpdate(source, needsRedraw, false)
}

// Loading reports whether any entity is loading.
func (i *Instance) Loading() bool { return i.anyLoading() }

// Progress aggregates entity progress; 1 when idle.
func (i *Instance) Progress() float64 {
	if len(i.entities) == 0 {
		return 1
	}
	sum := 0.0
	for _, e := range i.entities {
		sum += e.Progress()
	}
	return sum / float64(len(i.entities))
}

// Dispose disposes every entity and clears the per-instance caches.
func (i *Instance) Dispose() {
	if i.disposed {
		return
	}
	i.disposed = true
	for _, e := range i.entities {
		e.Dispose()
	}
	i.entities = nil
	i.byID = map[string]Entity{}
	i.cache.Clear()
}

func (i *Instance) anyLoading() bool {
	for _, e := range i.entities {
		if e.Loading() {
			return true
		}
	}
	return false
}

func (i *Instance) newContext(frame uint64, now time.Time) *Context {
	return &Context{
		Instance: i,
		View:     i.view,
		Queue:    i.queue,
		Cache:    i.cache,
		Targets:  i.targets,
		CRS:      i.crsReg,
		Frame:    frame,
		Now:      now,
		Logger:   i.logger,
	}
}

func (i *Instance) onContextLost() {
	i.events.Publish(Event{Kind: EventContextLost, Source: i})
	for _, e := range i.entities {
		e.OnRenderingContextLost()
	}
}

func (i *Instance) onContextRestored() {
	i.events.Publish(Event{Kind: EventContextRestored, Source: i})
	for _, e := range i.entities {
		e.OnRenderingContextRestored()
	}
	i.NotifyChange(nil, true)
}
