package transport

import (
	"sync"

	"github.com/openendpoint/replicator/internal/object"
)

// Registry is the request-id-keyed registry of reply channels the
// design notes in spec.md §9 ask for: when mailboxes aren't first-class
// across a process boundary, the coordinator's inbox is wrapped behind
// a registry entry that an inbound HTTP callback can look up and
// deliver to.
type Registry struct {
	mu      sync.Mutex
	inboxes map[int64]chan<- object.Outcome
}

// NewRegistry builds an empty reply registry.
func NewRegistry() *Registry {
	return &Registry{inboxes: make(map[int64]chan<- object.Outcome)}
}

// Register associates a request id with the channel that should
// receive the outcome when it eventually arrives. Must be called
// before the remote cast is issued.
func (r *Registry) Register(reqID int64, inbox chan<- object.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboxes[reqID] = inbox
}

// Unregister removes a request id once its coordinator has terminated.
// Deliveries that race with this call are simply dropped, matching the
// "delivered... regardless of whether the coordinator is still
// interested" semantics in spec.md §9 — a dropped late delivery for a
// terminated request is not an error.
func (r *Registry) Unregister(reqID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, reqID)
}

// Deliver hands an outcome to the registered inbox, if any. It reports
// whether a registered inbox was found; a false return is not an
// error — it means the request already completed and the coordinator
// stopped listening. The inbox is always buffered to N (one slot per
// target), so this send never blocks: at most N deliveries are ever
// made for a given request id.
func (r *Registry) Deliver(reqID int64, outcome object.Outcome) bool {
	r.mu.Lock()
	inbox, ok := r.inboxes[reqID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	inbox <- outcome
	return true
}
