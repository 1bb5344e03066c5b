package ws

import (
	"log"

	"github.com/pulse/chat-app/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// event. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g., protocol.JoinChatMsg,
// protocol.SendMessageMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket events to registered handlers
// based on the event name. It handles the built-in ping/pong keepalive
// internally and sends error events for malformed or unsupported frames.
// Handler panics are recovered at the dispatch boundary so one connection's
// event can never take down the shared registry or other connections.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports
// the initialization pattern where the dispatcher is created before the
// server (since NewServer requires the Dispatch callback).
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a MessageHandler with an event name. If a handler was
// already registered for the given event, it is silently replaced.
func (d *MessageDispatcher) Register(event string, handler MessageHandler) {
	d.handlers[event] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes into a typed event, handles ping internally, and routes all other
// events to the registered handler. Parse errors and unregistered events
// result in an error event sent back to the client.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ws: handler panic conn=%s user=%s: %v", conn.ID, conn.UserID, r)
			d.sendError(conn, "internal error")
		}
	}()

	event, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn, "invalid message format")
		return
	}

	// Built-in ping handler; responds without requiring registration.
	if event == protocol.EventPing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[event]
	if !ok {
		log.Printf("ws: unsupported event=%q conn=%s", event, conn.ID)
		d.sendError(conn, "unsupported event")
		return
	}

	handler(conn, msg)
}

// sendError sends an error event back to the originating connection only.
// Errors during message construction or transmission are logged but not
// propagated.
func (d *MessageDispatcher) sendError(conn *Connection, message string) {
	data, err := protocol.NewServerMessage(protocol.EventError, protocol.ErrorMsg{
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error event conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and records the
// keepalive as connection activity.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.EventPong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong conn=%s: %v", conn.ID, err)
	}
}
