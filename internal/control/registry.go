// Package control tracks stop requests for in-flight generation turns.
package control

import "sync"

// Registry maps conversation IDs to pending stop signals. A signal set while
// no turn is running is still honored by the next check, so callers clear the
// flag when a new turn begins.
type Registry struct {
	mu    sync.Mutex
	stops map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{stops: make(map[string]struct{})}
}

// SignalStop requests that the active turn for the conversation halts.
// Idempotent.
func (r *Registry) SignalStop(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops[conversationID] = struct{}{}
}

// ShouldStop reports whether a stop has been requested. It does not consume
// the signal.
func (r *Registry) ShouldStop(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stops[conversationID]
	return ok
}

// ClearSignal removes any pending stop for the conversation. Safe to call
// when none is set.
func (r *Registry) ClearSignal(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stops, conversationID)
}
