// Package admission enforces single-flight semantics over monitoring
// sessions: at most one session may be active process-wide, and callers
// that lose the race get an estimate of how long the current session has
// left instead of blocking.
package admission

import (
	"sync/atomic"
	"time"
)

// Gate is the process-wide single-flight lock for monitoring sessions.
// The busy flag and the current session's deadline are the only state
// touched by concurrent request handlers; both are plain atomics.
type Gate struct {
	busy     atomic.Bool
	deadline atomic.Int64 // unix milliseconds of the current session's end
}

// New returns an idle Gate.
func New() *Gate {
	return &Gate{}
}

// TryAcquire attempts to transition the gate from idle to busy and, on
// success, records the session deadline used by RemainingWait. It never
// blocks: exactly one concurrent caller observes true until Release.
func (g *Gate) TryAcquire(deadline time.Time) bool {
	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	g.deadline.Store(deadline.UnixMilli())
	return true
}

// Release returns the gate to idle. Safe to call more than once.
func (g *Gate) Release() {
	g.busy.Store(false)
}

// Busy reports whether a session currently holds the gate.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// RemainingWait returns a caller-facing estimate, in whole seconds, of
// how long until the current session's deadline. Returns 0 once the
// deadline has passed. Only meaningful after a failed TryAcquire.
func (g *Gate) RemainingWait(now time.Time) int {
	left := g.deadline.Load() - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return int(left/1000) + 1
}
