package relay

import (
	"sync"

	"uk.co.dudmesh.courier/internal/model"
)

// Registry maps authenticated identities to their live connections. It
// is the single source of truth for "who is reachable now"; online
// status anywhere else is derived from membership here.
//
// The registry itself stays pure: the hub owns the side effects
// (presence broadcast, LastActive updates) that accompany mutations.
type Registry struct {
	mu    sync.RWMutex
	conns map[model.UserID]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[model.UserID]*Conn)}
}

// Register binds a connection to an identity and returns any connection
// it displaced. One live connection per identity: last writer wins, and
// the caller is expected to close the displaced one.
func (r *Registry) Register(userID model.UserID, conn *Conn) (displaced *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	displaced = r.conns[userID]
	r.conns[userID] = conn
	return displaced
}

// Unregister removes the identity's entry, but only if it still points
// at conn. A connection displaced by a newer session must not tear down
// its successor's registration.
func (r *Registry) Unregister(userID model.UserID, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) Lookup(userID model.UserID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Snapshot returns a consistent copy of the current membership.
func (r *Registry) Snapshot() map[model.UserID]*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[model.UserID]*Conn, len(r.conns))
	for userID, conn := range r.conns {
		snapshot[userID] = conn
	}
	return snapshot
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
