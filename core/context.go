package core

import (
	"log/slog"
	"time"

	"github.com/MeKo-Tech/terrastream/cache"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
	"github.com/MeKo-Tech/terrastream/sched"
)

// Context is passed down the update tree. It carries the per-instance
// services (queue, cache, target pool, CRS registry) so no pipeline code
// reaches for ambient globals.
type Context struct {
	Instance *Instance
	View     *View

	Queue   *sched.Queue
	Cache   *cache.Cache
	Targets *render.TargetPool
	CRS     *geo.Registry

	// Frame is the current frame number; Now its timestamp.
	Frame uint64
	Now   time.Time

	Logger *slog.Logger
}

// Log returns the context logger, falling back to slog.Default.
func (c *Context) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Priority returns the queue priority for work issued this frame: a
// monotonic timestamp, so the newest requests are served first during rapid
// navigation.
func (c *Context) Priority() float64 {
	return float64(c.Now.UnixNano()) / 1e6
}
