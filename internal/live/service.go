// Package live implements the real-time core of the chat backend: admission
// of authenticated connections into the registry, presence transitions, room
// subscriptions, and message fanout. All durable state belongs to the store
// collaborator; this package only routes.
package live

import (
	"context"
	"errors"
	"log"

	"github.com/pulse/chat-app/internal/metrics"
	"github.com/pulse/chat-app/internal/presence"
	"github.com/pulse/chat-app/internal/protocol"
	"github.com/pulse/chat-app/internal/registry"
	"github.com/pulse/chat-app/internal/rooms"
	"github.com/pulse/chat-app/internal/store"
	"github.com/pulse/chat-app/internal/ws"
)

// Send error taxonomy. Each precondition failure maps to a distinct error
// surfaced only to the sender; the connection stays open.
var (
	ErrMissingChat  = errors.New("live: chat ID is required")
	ErrEmptyMessage = errors.New("live: message content or file is required")
	ErrAccessDenied = errors.New("live: access denied")
)

// Store is the slice of the persistence collaborator the live core consumes.
type Store interface {
	IsChatMember(ctx context.Context, userID, chatID string) (bool, error)
	ListChatMembers(ctx context.Context, chatID string) ([]string, error)
	CreateMessage(ctx context.Context, m store.NewMessage) (*store.Message, error)
	TouchChat(ctx context.Context, chatID string) error
	MarkMessageRead(ctx context.Context, messageID string) error
}

// Sender delivers a frame to one live connection. A delivery error means the
// connection vanished since lookup; callers discard it safely.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Mirror forwards frames to other server instances so a multi-instance
// deployment fans out beyond this process.
type Mirror interface {
	MirrorRoom(chatID string, frame []byte)
	MirrorUser(userID string, frame []byte)
}

// Limiter throttles per-user message sending.
type Limiter interface {
	AllowMessage(ctx context.Context, userID string) (bool, error)
}

// Service wires the registry, room membership, presence tracker and store
// into the event handlers served over each connection.
type Service struct {
	registry *registry.Registry
	rooms    *rooms.Rooms
	presence *presence.Tracker
	store    Store
	sender   Sender
	mirror   Mirror
	limiter  Limiter
}

// NewService creates the live core over its collaborators.
func NewService(reg *registry.Registry, rms *rooms.Rooms, pres *presence.Tracker, st Store, sender Sender, mirror Mirror, limiter Limiter) *Service {
	return &Service{
		registry: reg,
		rooms:    rms,
		presence: pres,
		store:    st,
		sender:   sender,
		mirror:   mirror,
		limiter:  limiter,
	}
}

// HandleConnect admits a freshly upgraded connection: it registers the
// connection with the user's set, fires the presence transition when this is
// the user's first connection, and acknowledges admission to the client.
// Registry mutation happens before the presence broadcast, so the online
// transition is observable before any message this connection sends.
func (s *Service) HandleConnect(conn *ws.Connection, user *store.User) {
	first := s.registry.Register(user.ID, conn.ID)
	metrics.OnlineUsers.Set(float64(s.registry.OnlineCount()))

	if first {
		s.presence.UserOnline(context.Background(), user)
	}

	ack, err := protocol.NewServerMessage(protocol.EventConnected, protocol.ConnectedMsg{
		UserID: user.ID,
	})
	if err != nil {
		log.Printf("live: build connected ack conn=%s: %v", conn.ID, err)
		return
	}
	if err := conn.WriteMessage(ack); err != nil {
		log.Printf("live: send connected ack conn=%s: %v", conn.ID, err)
	}
}

// HandleDisconnect tears down a closed connection: room subscriptions are
// cleared first, then the connection leaves the registry, and the offline
// presence transition fires if it was the user's last. After this returns
// the connection ID is retained nowhere.
func (s *Service) HandleDisconnect(conn *ws.Connection) {
	s.rooms.LeaveAll(conn.ID)
	metrics.RoomsActive.Set(float64(s.rooms.RoomCount()))

	userID, last := s.registry.Unregister(conn.ID)
	metrics.OnlineUsers.Set(float64(s.registry.OnlineCount()))

	if last && userID != "" {
		s.presence.UserOffline(context.Background(), userID)
	}
}

// DeliverRoom writes a frame to every connection subscribed to the room.
// Used both for local fanout and for frames arriving from other instances.
func (s *Service) DeliverRoom(chatID string, frame []byte) {
	for _, connID := range s.rooms.Subscribers(chatID) {
		if err := s.sender.SendMessage(connID, frame); err != nil {
			log.Printf("live: room delivery chat=%s conn=%s: %v", chatID, connID, err)
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("room").Inc()
	}
}

// deliverRoomExcept writes a frame to every room subscriber except the
// originating connection. Typing indicators and read-receipts use this.
func (s *Service) deliverRoomExcept(chatID, exceptConnID string, frame []byte) {
	for _, connID := range s.rooms.Subscribers(chatID) {
		if connID == exceptConnID {
			continue
		}
		if err := s.sender.SendMessage(connID, frame); err != nil {
			log.Printf("live: room delivery chat=%s conn=%s: %v", chatID, connID, err)
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("room").Inc()
	}
}

// DeliverUser writes a frame to every connection owned by the user,
// subscribed or not. This is the per-user notification channel.
func (s *Service) DeliverUser(userID string, frame []byte) {
	for _, connID := range s.registry.ConnectionsFor(userID) {
		if err := s.sender.SendMessage(connID, frame); err != nil {
			log.Printf("live: user delivery user=%s conn=%s: %v", userID, connID, err)
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("user").Inc()
	}
}

// DeliverPresence writes a presence frame arriving from another instance to
// every local connection except those owned by the transitioning user, the
// same scope the local presence broadcast uses.
func (s *Service) DeliverPresence(userID string, frame []byte) {
	for _, connID := range s.registry.ConnectionsExcept(userID) {
		if err := s.sender.SendMessage(connID, frame); err != nil {
			log.Printf("live: presence delivery conn=%s: %v", connID, err)
		}
	}
}

// sendError sends an error event back to the originating connection only.
func (s *Service) sendError(conn *ws.Connection, message string) {
	frame, err := protocol.NewServerMessage(protocol.EventError, protocol.ErrorMsg{
		Message: message,
	})
	if err != nil {
		log.Printf("live: build error event conn=%s: %v", conn.ID, err)
		return
	}
	if err := conn.WriteMessage(frame); err != nil {
		log.Printf("live: send error event conn=%s: %v", conn.ID, err)
	}
}
