package live

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/pulse/chat-app/internal/metrics"
	"github.com/pulse/chat-app/internal/protocol"
	"github.com/pulse/chat-app/internal/store"
	"github.com/pulse/chat-app/internal/ws"
)

// Client-facing error strings, kept identical to the REST backend's wording.
const (
	errMsgMissingChat  = "Chat ID is required"
	errMsgEmptyMessage = "Message content or file is required"
	errMsgAccessDenied = "Access denied"
	errMsgSendFailed   = "Failed to send message"
	errMsgReadFailed   = "Failed to mark message as read"
	errMsgRateLimited  = "Too many messages, slow down"
)

// RegisterHandlers wires every inbound event to its Service method on the
// dispatcher.
func (s *Service) RegisterHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.EventJoinChat, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinChatMsg); ok {
			s.JoinChat(conn, m.ChatID)
		}
	})
	d.Register(protocol.EventLeaveChat, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.LeaveChatMsg); ok {
			s.LeaveChat(conn, m.ChatID)
		}
	})
	d.Register(protocol.EventSendMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendMessageMsg); ok {
			s.SendChatMessage(conn, m)
		}
	})
	d.Register(protocol.EventTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			s.Typing(conn, m.ChatID)
		}
	})
	d.Register(protocol.EventStopTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.StopTypingMsg); ok {
			s.StopTyping(conn, m.ChatID)
		}
	})
	d.Register(protocol.EventMarkMessageRead, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.MarkMessageReadMsg); ok {
			s.MarkMessageRead(conn, m)
		}
	})
}

// JoinChat subscribes the connection to the chat's room after validating the
// user's persisted membership. A non-member join is declined silently: no
// subscription, no response to anyone. Membership lookup failures decline
// the same way.
func (s *Service) JoinChat(conn *ws.Connection, chatID string) {
	if chatID == "" {
		return
	}
	ctx := context.Background()

	member, err := s.store.IsChatMember(ctx, conn.UserID, chatID)
	if err != nil {
		log.Printf("live: join membership check user=%s chat=%s: %v", conn.UserID, chatID, err)
		return
	}
	if !member {
		log.Printf("live: join declined user=%s chat=%s (not a member)", conn.UserID, chatID)
		return
	}

	// The connection may have closed while the membership lookup was in
	// flight; a gone connection must not gain a subscription.
	if s.registry.UserFor(conn.ID) == "" {
		return
	}

	s.rooms.Join(conn.ID, chatID)
	metrics.RoomsActive.Set(float64(s.rooms.RoomCount()))
	log.Printf("live: join user=%s chat=%s conn=%s", conn.UserID, chatID, conn.ID)
}

// LeaveChat unsubscribes the connection from the chat's room. Leaving needs
// no membership check.
func (s *Service) LeaveChat(conn *ws.Connection, chatID string) {
	if chatID == "" {
		return
	}
	s.rooms.Leave(conn.ID, chatID)
	metrics.RoomsActive.Set(float64(s.rooms.RoomCount()))
	log.Printf("live: leave user=%s chat=%s conn=%s", conn.UserID, chatID, conn.ID)
}

// SendChatMessage validates, persists and fans out a new message.
//
// Preconditions are checked in order and the first failure short-circuits
// with an error event to the sender only: chat ID present, content or file
// present, sender is a persisted member. On success the message is persisted,
// the chat's updatedAt is touched (best-effort), the message is delivered to
// every room-subscribed connection (the sender included, for optimistic UI
// reconciliation), and every other persisted member receives a
// newMessageNotification on their per-user channel whether subscribed or not.
func (s *Service) SendChatMessage(conn *ws.Connection, m protocol.SendMessageMsg) {
	start := time.Now()
	ctx := context.Background()

	allowed, _ := s.limiter.AllowMessage(ctx, conn.UserID)
	if !allowed {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		s.sendError(conn, errMsgRateLimited)
		return
	}

	if err := s.validateSend(ctx, conn.UserID, m); err != nil {
		switch {
		case errors.Is(err, ErrMissingChat):
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			s.sendError(conn, errMsgMissingChat)
		case errors.Is(err, ErrEmptyMessage):
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			s.sendError(conn, errMsgEmptyMessage)
		case errors.Is(err, ErrAccessDenied):
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			s.sendError(conn, errMsgAccessDenied)
		default:
			log.Printf("live: send validation user=%s chat=%s: %v", conn.UserID, m.ChatID, err)
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
			s.sendError(conn, errMsgSendFailed)
		}
		return
	}

	msg, err := s.store.CreateMessage(ctx, store.NewMessage{
		ChatID:     m.ChatID,
		SenderID:   conn.UserID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		FileURL:    m.FileURL,
		FileName:   m.FileName,
		FileSize:   m.FileSize,
	})
	if err != nil {
		log.Printf("live: persist message user=%s chat=%s: %v", conn.UserID, m.ChatID, err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		s.sendError(conn, errMsgSendFailed)
		return
	}

	// Secondary write: chat-list ordering. Never rolls back the message.
	if err := s.store.TouchChat(ctx, m.ChatID); err != nil {
		log.Printf("live: touch chat %s: %v", m.ChatID, err)
	}

	roomFrame, err := protocol.NewServerMessage(protocol.EventNewMessage, protocol.NewMessageMsg{
		Message: *msg,
	})
	if err != nil {
		log.Printf("live: build newMessage chat=%s: %v", m.ChatID, err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		s.sendError(conn, errMsgSendFailed)
		return
	}
	s.DeliverRoom(m.ChatID, roomFrame)
	s.mirror.MirrorRoom(m.ChatID, roomFrame)

	s.notifyMembers(ctx, msg)

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// validateSend checks the sendMessage preconditions in order; the first
// failing check wins. A store failure during the membership lookup is
// returned as-is so the caller can distinguish it from an access denial.
func (s *Service) validateSend(ctx context.Context, userID string, m protocol.SendMessageMsg) error {
	if m.ChatID == "" {
		return ErrMissingChat
	}
	if m.Content == "" && m.FileURL == nil {
		return ErrEmptyMessage
	}
	member, err := s.store.IsChatMember(ctx, userID, m.ChatID)
	if err != nil {
		return err
	}
	if !member {
		return ErrAccessDenied
	}
	return nil
}

// notifyMembers pushes a newMessageNotification to every persisted chat
// member other than the sender, on their per-user channel. Members with zero
// active connections get nothing here; offline push is an external concern.
func (s *Service) notifyMembers(ctx context.Context, msg *store.Message) {
	members, err := s.store.ListChatMembers(ctx, msg.ChatID)
	if err != nil {
		log.Printf("live: list members chat=%s: %v", msg.ChatID, err)
		return
	}

	frame, err := protocol.NewServerMessage(protocol.EventNewMessageNotification, protocol.NewMessageNotificationMsg{
		ChatID:  msg.ChatID,
		Message: msg,
		Sender:  msg.Sender,
	})
	if err != nil {
		log.Printf("live: build newMessageNotification chat=%s: %v", msg.ChatID, err)
		return
	}

	for _, userID := range members {
		if userID == msg.SenderID {
			continue
		}
		s.DeliverUser(userID, frame)
		s.mirror.MirrorUser(userID, frame)
	}
}

// Typing relays a typing indicator to the chat's room, excluding the typist.
// Typing state is ephemeral; nothing is persisted.
func (s *Service) Typing(conn *ws.Connection, chatID string) {
	s.relayTyping(conn, chatID, protocol.EventUserTyping)
}

// StopTyping relays the end of a typing indicator to the chat's room.
func (s *Service) StopTyping(conn *ws.Connection, chatID string) {
	s.relayTyping(conn, chatID, protocol.EventUserStoppedTyping)
}

func (s *Service) relayTyping(conn *ws.Connection, chatID, event string) {
	if chatID == "" {
		return
	}

	frame, err := protocol.NewServerMessage(event, protocol.UserTypingMsg{
		UserID:   conn.UserID,
		Username: conn.Username,
		ChatID:   chatID,
	})
	if err != nil {
		log.Printf("live: build %s chat=%s: %v", event, chatID, err)
		return
	}
	s.deliverRoomExcept(chatID, conn.ID, frame)
	s.mirror.MirrorRoom(chatID, frame)
}

// MarkMessageRead flips the message's read flag and announces the
// read-receipt to the chat's room. Unlike the best-effort side writes, the
// flag update is the operation's primary effect: a store failure is surfaced
// to the reader and no receipt is broadcast.
func (s *Service) MarkMessageRead(conn *ws.Connection, m protocol.MarkMessageReadMsg) {
	if m.MessageID == "" || m.ChatID == "" {
		return
	}
	ctx := context.Background()

	if err := s.store.MarkMessageRead(ctx, m.MessageID); err != nil {
		log.Printf("live: mark read message=%s user=%s: %v", m.MessageID, conn.UserID, err)
		s.sendError(conn, errMsgReadFailed)
		return
	}

	frame, err := protocol.NewServerMessage(protocol.EventMessageRead, protocol.MessageReadMsg{
		MessageID: m.MessageID,
		UserID:    conn.UserID,
	})
	if err != nil {
		log.Printf("live: build messageRead message=%s: %v", m.MessageID, err)
		return
	}
	s.deliverRoomExcept(m.ChatID, conn.ID, frame)
	s.mirror.MirrorRoom(m.ChatID, frame)
}
