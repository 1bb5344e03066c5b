// Package registry tracks which users are connected and through which
// connections. It is the only cross-cutting mutable shared state in the live
// layer; every other component reads and writes through its narrow contract
// instead of touching raw maps.
package registry

import "sync"

// Registry maps a user to the set of their currently-open connections and
// keeps a reverse index from connection ID to owning user. A user may hold
// multiple simultaneous connections (multi-device). All mutations are
// serialized behind a single mutex.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // user_id -> set of connection IDs
	byConn map[string]string              // connection_id -> user_id
}

// New creates an empty Registry ready for use.
func New() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register adds the connection to the user's connection set, creating the
// set on the user's first connection. Registering the same connection ID
// twice is a no-op. It returns true if this was the user's first connection
// (the online presence transition).
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[connID]; ok {
		return false
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID

	return len(conns) == 1
}

// Unregister removes the connection, resolving the owning user through the
// reverse index. It returns the owning user ID and whether this was the
// user's last connection (the offline presence transition). Unknown
// connection IDs return ("", false).
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return userID, true
	}
	return userID, false
}

// IsOnline reports whether the user has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's connection IDs for
// targeted delivery. The returned slice is safe to iterate without holding
// the lock.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// ConnectionsExcept returns a snapshot of every registered connection ID not
// owned by the given user. Used for presence broadcasts, which go to all
// other connected users.
func (r *Registry) ConnectionsExcept(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for uid, conns := range r.byUser {
		if uid == userID {
			continue
		}
		for id := range conns {
			out = append(out, id)
		}
	}
	return out
}

// UserFor returns the user owning the given connection, or "" if the
// connection is not registered.
func (r *Registry) UserFor(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// OnlineCount returns the number of distinct users with at least one open
// connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
