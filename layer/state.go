// Package layer implements the raster paint pipeline: layers produce one
// texture per node by fetching source images through the request queue,
// compositing them with the LayerComposer into pooled render targets, and
// handing the result to the node's material together with the pitch that
// maps the paint extent back onto the node.
package layer

import "time"

// UpdateState is the lifecycle of one node/layer pair in pipelines that
// retry transient failures (the vector tile pipeline).
type UpdateState int

const (
	UpdateIdle UpdateState = iota
	UpdatePending
	UpdateError
	UpdateDefinitiveError
	UpdateFinished
)

// errorPauses is the capped backoff schedule applied between retries.
var errorPauses = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	7 * time.Second,
	60 * time.Second,
}

// UpdateStateMachine tracks retries and backoff for one node.
type UpdateStateMachine struct {
	state      UpdateState
	errorCount int
	lastError  time.Time
}

// State returns the current state.
func (u *UpdateStateMachine) State() UpdateState { return u.state }

// ErrorCount returns the number of recorded failures.
func (u *UpdateStateMachine) ErrorCount() int { return u.errorCount }

// CanTryUpdate reports whether a new attempt is allowed at time now: idle
// states always may, terminal states never, and errored states once the
// backoff pause has elapsed.
func (u *UpdateStateMachine) CanTryUpdate(now time.Time) bool {
	switch u.state {
	case UpdateIdle:
		return true
	case UpdatePending, UpdateDefinitiveError, UpdateFinished:
		return false
	default:
		idx := u.errorCount - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(errorPauses) {
			idx = len(errorPauses) - 1
		}
		return now.Sub(u.lastError) >= errorPauses[idx]
	}
}

// NewTry marks the start of an attempt.
func (u *UpdateStateMachine) NewTry() {
	u.state = UpdatePending
}

// Success marks the node finished; no further updates run.
func (u *UpdateStateMachine) Success() {
	u.state = UpdateFinished
}

// NoMoreUpdates marks completion without data (extent outside source).
func (u *UpdateStateMachine) NoMoreUpdates() {
	u.state = UpdateFinished
}

// Abort returns to idle without counting an error; the next frame may try
// again immediately.
func (u *UpdateStateMachine) Abort() {
	u.state = UpdateIdle
}

// Failure records a failed attempt at time now. Definitive failures block
// every future attempt.
func (u *UpdateStateMachine) Failure(now time.Time, definitive bool) {
	u.errorCount++
	u.lastError = now
	if definitive {
		u.state = UpdateDefinitiveError
	} else {
		u.state = UpdateError
	}
}
