package core

import "sync"

// ProgressTracker aggregates operation counters into the user-visible
// loading/progress surface of an entity. Operations register on start and
// report on completion; progress is completed/total until everything
// settles, then the counters reset so the next burst starts from zero.
type ProgressTracker struct {
	mu        sync.Mutex
	total     int
	completed int
}

// NewProgressTracker creates an idle tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// Begin records the start of an operation and returns the function to call
// exactly once when it settles, successfully or not.
func (p *ProgressTracker) Begin() func() {
	p.mu.Lock()
	p.total++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.completed++
			if p.completed >= p.total {
				p.total = 0
				p.completed = 0
			}
			p.mu.Unlock()
		})
	}
}

// Loading reports whether any operation is outstanding.
func (p *ProgressTracker) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total > p.completed
}

// Progress returns completion in [0, 1]; an idle tracker reports 1.
func (p *ProgressTracker) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total == 0 {
		return 1
	}
	return float64(p.completed) / float64(p.total)
}
