package call

import (
	"sync"
)

// Registry owns the call_id → Context map for a process. No ambient
// globals: components that need call state hold a *Registry.
type Registry struct {
	mu         sync.RWMutex
	calls      map[string]*Context
	windowSize int
}

// NewRegistry creates a registry whose contexts use the given risk
// window capacity.
func NewRegistry(windowSize int) *Registry {
	return &Registry{
		calls:      make(map[string]*Context),
		windowSize: windowSize,
	}
}

// StartCall creates and registers context for a new call.
func (r *Registry) StartCall(callID string) *Context {
	ctx := NewContext(callID, r.windowSize)
	r.mu.Lock()
	r.calls[callID] = ctx
	r.mu.Unlock()
	return ctx
}

// Get returns the context for a call, or nil when unknown.
func (r *Registry) Get(callID string) *Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[callID]
}

// EndCall marks the call CLOSING and removes its key. The returned
// context stays valid for final snapshots; the registry no longer tracks
// it.
func (r *Registry) EndCall(callID string) *Context {
	r.mu.Lock()
	ctx := r.calls[callID]
	delete(r.calls, callID)
	r.mu.Unlock()
	if ctx != nil {
		ctx.Close()
	}
	return ctx
}

// Snapshots returns the broadcast view of every active call.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.calls))
	for id, ctx := range r.calls {
		out[id] = ctx.Snapshot()
	}
	return out
}
