package client

import (
	"sync"

	"github.com/rs/zerolog/log"

	"klique/protocol"
)

// Listener handles decoded events for one feature area. Implementations
// are registered under a stable id; the transport's read loop invokes
// them, so OnEvent must be safe to call from a background goroutine.
type Listener interface {
	ListenerID() string
	OnEvent(ev protocol.Event)
}

// Registry maps listener ids to the currently active handler. UI surfaces
// register on entry and unregister on exit while the read loop dispatches
// concurrently, so all access goes through the lock. Registering an id
// twice replaces the previous handler (last writer wins).
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]Listener)}
}

// Register installs the handler under its listener id, replacing any
// existing one.
func (r *Registry) Register(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[l.ListenerID()] = l
}

// Unregister removes the handler for id. Dispatching to the id afterwards
// is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, id)
}

// Dispatch invokes the handler registered under id, reporting whether one
// was installed. Events for absent listeners are dropped.
func (r *Registry) Dispatch(id string, ev protocol.Event) bool {
	r.mu.RLock()
	l, ok := r.listeners[id]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("listener", id).Str("event", ev.EventType()).Msg("no listener registered, dropping event")
		return false
	}
	l.OnEvent(ev)
	return true
}
