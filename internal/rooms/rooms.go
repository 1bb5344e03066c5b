// Package rooms tracks which connections are subscribed to which chat rooms.
// Membership validation against the persistence layer happens in the caller;
// this package only maintains the room <-> connection mapping and its
// teardown cascade.
package rooms

import "sync"

// Rooms is a goroutine-safe many-to-many mapping between room IDs and
// connection IDs. A connection may subscribe to any number of rooms; all
// of its subscriptions are cleared in one call when it disconnects.
type Rooms struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{} // room_id -> set of connection IDs
	byConn map[string]map[string]struct{} // connection_id -> set of room IDs
}

// New creates an empty Rooms mapping.
func New() *Rooms {
	return &Rooms{
		byRoom: make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes the connection to the room. Joining a room twice is a
// no-op.
func (r *Rooms) Join(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byRoom[roomID]
	if !ok {
		conns = make(map[string]struct{})
		r.byRoom[roomID] = conns
	}
	conns[connID] = struct{}{}

	joined, ok := r.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[connID] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave unsubscribes the connection from the room. Leaving a room the
// connection never joined is a no-op; no membership check is required to
// leave.
func (r *Rooms) Leave(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(connID, roomID)
}

// LeaveAll clears every subscription held by the connection. Called from
// registry teardown when the connection is destroyed.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.byConn[connID] {
		r.remove(connID, roomID)
	}
}

// remove deletes one subscription edge. Caller must hold the write lock.
func (r *Rooms) remove(connID, roomID string) {
	if conns, ok := r.byRoom[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// Subscribers returns a snapshot of the connection IDs subscribed to the
// room. The returned slice is safe to iterate without holding the lock.
func (r *Rooms) Subscribers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byRoom[roomID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// IsSubscribed reports whether the connection currently holds a subscription
// to the room.
func (r *Rooms) IsSubscribed(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byConn[connID][roomID]
	return ok
}

// RoomCount returns the number of rooms with at least one subscriber.
func (r *Rooms) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom)
}
