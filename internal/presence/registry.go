// Package presence maps logically online users to their single active
// real-time connection. The registry is a process-local table; it does not
// coordinate across server instances.
package presence

import "sync"

// Registry tracks at most one connection per user; a new register for the
// same user overwrites the previous one (last connection wins).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string // userID -> connectionID
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]string)}
}

// Register binds userID to connID and returns the connection id it replaced,
// if any, so the caller can close the stale connection.
func (r *Registry) Register(userID, connID string) (prev string, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced = r.conns[userID]
	r.conns[userID] = connID
	return prev, replaced && prev != connID
}

// Unregister removes the entry only if connID is the connection currently
// registered for userID. This guards against a stale disconnect racing a
// fresh reconnect: the reconnected session must not be unregistered by the
// old connection's teardown.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[userID]; ok && cur == connID {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Lookup returns the live connection id for userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[userID]
	return id, ok
}

// Snapshot returns the ids of all online users.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	return out
}
