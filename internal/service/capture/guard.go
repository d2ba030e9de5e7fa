package capture

import "sync"

// FlowGuard is the single-active-flow register. Exactly one flow is live at
// a time; a callback may only act if it claims the live flow first. The
// monotonic counters let a late callback from flow N be discarded once flow
// N+1 has started, making handling at-most-once per logical flow.
type FlowGuard struct {
	mu        sync.Mutex
	mountID   uint64
	flowKey   uint64
	sessionID string
	active    bool
	handled   bool
}

func NewFlowGuard() *FlowGuard {
	return &FlowGuard{}
}

// Advance starts a new flow for sessionID: both counters increment and the
// handled latch clears. Any callback still carrying the previous flowKey is
// stale from this point on.
func (g *FlowGuard) Advance(sessionID string) (mountID, flowKey uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mountID++
	g.flowKey++
	g.sessionID = sessionID
	g.active = true
	g.handled = false
	return g.mountID, g.flowKey
}

// Claim returns true exactly once per flow: the first caller whose
// (mountID, flowKey, sessionID) matches the live flow wins and latches
// handled; every other caller, re-entrant or late, loses.
func (g *FlowGuard) Claim(mountID, flowKey uint64, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active || g.handled {
		return false
	}
	if mountID != g.mountID || flowKey != g.flowKey || sessionID != g.sessionID {
		return false
	}
	g.handled = true
	return true
}

// Reset empties the register; run by the host on every exit path.
func (g *FlowGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionID = ""
	g.active = false
	g.handled = false
}

// Retire empties the register only if flowKey is still the live flow. A
// mount attempt that lost to Close uses this so it never wipes a flow a
// later Open has started.
func (g *FlowGuard) Retire(flowKey uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active || g.flowKey != flowKey {
		return
	}
	g.sessionID = ""
	g.active = false
	g.handled = false
}

// Snapshot reports the live flow for status endpoints and tests.
func (g *FlowGuard) Snapshot() (mountID, flowKey uint64, sessionID string, active, handled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mountID, g.flowKey, g.sessionID, g.active, g.handled
}
