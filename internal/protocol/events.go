// Package protocol defines the WebSocket event types and structures used for
// communication between the client and server. All events are serialized as
// JSON and follow a consistent envelope format with an "event" discriminator;
// payload fields keep the camelCase names the REST backend uses, so `type`
// inside a sendMessage payload is the message content type, not the event
// name.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pulse/chat-app/internal/store"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server event names.
const (
	EventJoinChat        = "joinChat"
	EventLeaveChat       = "leaveChat"
	EventSendMessage     = "sendMessage"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventMarkMessageRead = "markMessageRead"
	EventPing            = "ping"
)

// Server -> Client event names.
const (
	EventConnected              = "connected"
	EventUserOnline             = "userOnline"
	EventUserOffline            = "userOffline"
	EventNewMessage             = "newMessage"
	EventNewMessageNotification = "newMessageNotification"
	EventUserTyping             = "userTyping"
	EventUserStoppedTyping      = "userStoppedTyping"
	EventMessageRead            = "messageRead"
	EventError                  = "error"
	EventPong                   = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the event discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Raw   json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "event" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	e.Event = partial.Event
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinChatMsg asks the server to subscribe this connection to a chat room.
type JoinChatMsg struct {
	Event  string `json:"event"`
	ChatID string `json:"chatId"`
}

// LeaveChatMsg asks the server to unsubscribe this connection from a chat room.
type LeaveChatMsg struct {
	Event  string `json:"event"`
	ChatID string `json:"chatId"`
}

// SendMessageMsg carries a new chat message. Type is the message content
// type (TEXT, IMAGE, ...), defaulting to TEXT. ReceiverID is the legacy
// direct-message field and may be empty.
type SendMessageMsg struct {
	Event      string  `json:"event"`
	ChatID     string  `json:"chatId"`
	Content    string  `json:"content,omitempty"`
	Type       string  `json:"type,omitempty"`
	ReceiverID *string `json:"receiverId,omitempty"`
	FileURL    *string `json:"fileUrl,omitempty"`
	FileName   *string `json:"fileName,omitempty"`
	FileSize   *int64  `json:"fileSize,omitempty"`
}

// TypingMsg signals that the user started typing in a chat.
type TypingMsg struct {
	Event  string `json:"event"`
	ChatID string `json:"chatId"`
}

// StopTypingMsg signals that the user stopped typing in a chat.
type StopTypingMsg struct {
	Event  string `json:"event"`
	ChatID string `json:"chatId"`
}

// MarkMessageReadMsg flags a message as read and notifies the chat room.
type MarkMessageReadMsg struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Event string `json:"event"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ConnectedMsg acknowledges a successfully admitted connection.
type ConnectedMsg struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

// UserOnlineMsg announces that a user's first connection came online.
type UserOnlineMsg struct {
	Event    string      `json:"event"`
	UserID   string      `json:"userId"`
	IsOnline bool        `json:"isOnline"`
	User     *store.User `json:"user,omitempty"`
}

// UserOfflineMsg announces that a user's last connection closed.
type UserOfflineMsg struct {
	Event    string `json:"event"`
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen"` // RFC 3339
}

// NewMessageMsg delivers a persisted message to room subscribers.
type NewMessageMsg struct {
	Event string `json:"event"`
	store.Message
}

// NewMessageNotificationMsg is the per-user notification delivered to every
// chat member regardless of room subscription, so unread badges update live.
type NewMessageNotificationMsg struct {
	Event   string         `json:"event"`
	ChatID  string         `json:"chatId"`
	Message *store.Message `json:"message"`
	Sender  *store.User    `json:"sender"`
}

// UserTypingMsg relays a typing indicator to the chat room.
type UserTypingMsg struct {
	Event    string `json:"event"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	ChatID   string `json:"chatId"`
}

// UserStoppedTypingMsg relays the end of a typing indicator to the chat room.
type UserStoppedTypingMsg struct {
	Event    string `json:"event"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	ChatID   string `json:"chatId"`
}

// MessageReadMsg announces a read-receipt to the chat room.
type MessageReadMsg struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// ErrorMsg is sent back to the originating connection on handler failure.
type ErrorMsg struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Event string `json:"event"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event name, the decoded struct, and any error encountered
// during parsing. An error is returned for unknown or server-only events.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Event {
	case EventJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventMarkMessageRead:
		var m MarkMessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventPing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown client event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	return env.Event, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The event name is injected into the payload under the "event" key. The
// payload should be one of the server-side event structs; this function
// marshals it to JSON, injects the event field, and returns the final bytes.
func NewServerMessage(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["event"] = event

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
