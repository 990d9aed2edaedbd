package datasource

import "sync"

// Listener is notified of data source connection changes.
// Callbacks are issued from the goroutine calling Connect / Disconnect.
type Listener interface {
	OnConnected(id SourceID)
	OnDisconnected(id SourceID)
}

// Registry fans out connection events to subscribed listeners.
// The zero value is ready to use.
type Registry struct {
	mu        sync.Mutex
	listeners []Listener
}

// Subscribe returns false if the listener is already subscribed.
func (r *Registry) Subscribe(listener Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		if l == listener {
			return false
		}
	}
	r.listeners = append(r.listeners, listener)
	return true
}

// Unsubscribe returns false if the listener was not subscribed.
func (r *Registry) Unsubscribe(listener Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l == listener {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	return listeners
}

// NotifyConnected calls OnConnected on every listener, outside of the registry lock.
func (r *Registry) NotifyConnected(id SourceID) {
	for _, l := range r.snapshot() {
		l.OnConnected(id)
	}
}

func (r *Registry) NotifyDisconnected(id SourceID) {
	for _, l := range r.snapshot() {
		l.OnDisconnected(id)
	}
}
