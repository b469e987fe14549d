package orchestrator

import "sync"

// Request is a caller's request to end a run early.
type Request int

const (
	// RequestNone lets the run continue.
	RequestNone Request = iota
	// RequestSkip ends the run as complete, keeping open findings.
	RequestSkip
	// RequestCancel ends the run as cancelled.
	RequestCancel
)

// Control lets a caller skip or cancel a running fix loop. Requests take
// effect at the next state transition. It is safe for concurrent use.
type Control struct {
	mu  sync.RWMutex
	req Request
}

// NewControl creates a Control with no pending request.
func NewControl() *Control {
	return &Control{}
}

// Skip asks the run to finish as complete.
func (c *Control) Skip() {
	c.set(RequestSkip)
}

// Cancel asks the run to finish as cancelled. Cancel wins over Skip.
func (c *Control) Cancel() {
	c.set(RequestCancel)
}

func (c *Control) set(r Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r > c.req {
		c.req = r
	}
}

// Pending returns the strongest request made so far. A nil Control never
// has one.
func (c *Control) Pending() Request {
	if c == nil {
		return RequestNone
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.req
}
