// Package presence derives online/offline transitions from connection
// registry occupancy and makes them visible: persisted through the store
// collaborator and broadcast to every other connected user. Transitions fire
// only on 0->1 and 1->0 occupancy edges, so multi-device connect/disconnect
// churn never flaps.
package presence

import (
	"context"
	"log"
	"time"

	"github.com/pulse/chat-app/internal/metrics"
	"github.com/pulse/chat-app/internal/protocol"
	"github.com/pulse/chat-app/internal/registry"
	"github.com/pulse/chat-app/internal/store"
)

// Writer is the slice of the persistence collaborator presence needs.
type Writer interface {
	UpdateUserPresence(ctx context.Context, userID string, isOnline bool, lastSeen *time.Time) error
}

// Sender delivers a frame to one live connection.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Mirror forwards presence frames to other server instances. The userID is
// carried so remote instances can exclude the transitioning user's own
// connections, matching local broadcast scope.
type Mirror interface {
	MirrorPresence(userID string, frame []byte)
}

// Tracker persists and broadcasts presence transitions.
type Tracker struct {
	registry *registry.Registry
	writer   Writer
	sender   Sender
	mirror   Mirror
}

// NewTracker creates a Tracker over the given registry and collaborators.
func NewTracker(reg *registry.Registry, writer Writer, sender Sender, mirror Mirror) *Tracker {
	return &Tracker{registry: reg, writer: writer, sender: sender, mirror: mirror}
}

// UserOnline handles a user's first connection: it persists isOnline=true
// and broadcasts userOnline to all other connected users. The persistence
// write is best-effort: a failure is logged and never blocks the broadcast,
// since stale persisted state self-heals on the next transition.
func (t *Tracker) UserOnline(ctx context.Context, user *store.User) {
	if err := t.writer.UpdateUserPresence(ctx, user.ID, true, nil); err != nil {
		log.Printf("presence: persist online user=%s: %v", user.ID, err)
	}

	metrics.PresenceTransitions.WithLabelValues("online").Inc()
	metrics.OnlineUsers.Set(float64(t.registry.OnlineCount()))

	frame, err := protocol.NewServerMessage(protocol.EventUserOnline, protocol.UserOnlineMsg{
		UserID:   user.ID,
		IsOnline: true,
		User:     user,
	})
	if err != nil {
		log.Printf("presence: build userOnline user=%s: %v", user.ID, err)
		return
	}

	t.broadcast(user.ID, frame)
}

// UserOffline handles a user's last connection closing: it persists
// isOnline=false with a lastSeen timestamp taken at the transition, and
// broadcasts userOffline to all other connected users.
func (t *Tracker) UserOffline(ctx context.Context, userID string) {
	lastSeen := time.Now().UTC()
	if err := t.writer.UpdateUserPresence(ctx, userID, false, &lastSeen); err != nil {
		log.Printf("presence: persist offline user=%s: %v", userID, err)
	}

	metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	metrics.OnlineUsers.Set(float64(t.registry.OnlineCount()))

	frame, err := protocol.NewServerMessage(protocol.EventUserOffline, protocol.UserOfflineMsg{
		UserID:   userID,
		IsOnline: false,
		LastSeen: lastSeen.Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("presence: build userOffline user=%s: %v", userID, err)
		return
	}

	t.broadcast(userID, frame)
}

// broadcast delivers a presence frame to every connection not owned by the
// transitioning user. Delivery errors mean the target connection vanished
// mid-broadcast; that is safe to discard.
func (t *Tracker) broadcast(userID string, frame []byte) {
	for _, connID := range t.registry.ConnectionsExcept(userID) {
		if err := t.sender.SendMessage(connID, frame); err != nil {
			log.Printf("presence: deliver to conn=%s: %v", connID, err)
		}
	}
	t.mirror.MirrorPresence(userID, frame)
}
