package permission

import (
	"errors"
	"sync"
)

// ErrUnknownDecision is returned when resolving a decision ID with no
// registered waiter (already resolved, timed out, or never existed).
var ErrUnknownDecision = errors.New("permission: unknown or already-resolved decision")

// PendingResolver tracks hook callbacks blocked on a Pending decision,
// keyed by DecisionID, so the /api/hooks/decisions/{id}/resolve
// endpoint can unblock them. The hook executor's own timeout still
// applies independently: a resolution arriving after the callback has
// already timed out is simply dropped.
type PendingResolver struct {
	mu      sync.Mutex
	waiters map[string]chan bool
}

// NewPendingResolver constructs an empty resolver.
func NewPendingResolver() *PendingResolver {
	return &PendingResolver{waiters: make(map[string]chan bool)}
}

// Register creates a waiter channel for decisionID. The caller must
// eventually call Forget, win or lose the race with Resolve.
func (p *PendingResolver) Register(decisionID string) <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan bool, 1)
	p.waiters[decisionID] = ch
	return ch
}

// Resolve delivers approved to the waiter registered for decisionID.
func (p *PendingResolver) Resolve(decisionID string, approved bool) error {
	p.mu.Lock()
	ch, ok := p.waiters[decisionID]
	if ok {
		delete(p.waiters, decisionID)
	}
	p.mu.Unlock()

	if !ok {
		return ErrUnknownDecision
	}
	ch <- approved
	return nil
}

// Forget removes decisionID's waiter without resolving it, used when
// the caller gives up waiting (e.g. its own timeout fired first).
func (p *PendingResolver) Forget(decisionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, decisionID)
}
