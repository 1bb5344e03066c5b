package protocol

import (
	"encoding/json"
	"testing"

	"github.com/pulse/chat-app/internal/store"
)

func TestParseClientMessage_JoinChat(t *testing.T) {
	event, msg, err := ParseClientMessage([]byte(`{"event":"joinChat","chatId":"chat1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventJoinChat {
		t.Fatalf("expected joinChat, got %q", event)
	}
	m, ok := msg.(JoinChatMsg)
	if !ok {
		t.Fatalf("expected JoinChatMsg, got %T", msg)
	}
	if m.ChatID != "chat1" {
		t.Fatalf("expected chat1, got %q", m.ChatID)
	}
}

// The payload's "type" field is the message content type, not the event
// discriminator.
func TestParseClientMessage_SendMessage(t *testing.T) {
	raw := []byte(`{
		"event": "sendMessage",
		"chatId": "chat1",
		"content": "hello",
		"type": "IMAGE",
		"fileUrl": "https://cdn.example.com/pic.png",
		"fileSize": 1024
	}`)

	event, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventSendMessage {
		t.Fatalf("expected sendMessage, got %q", event)
	}
	m, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if m.ChatID != "chat1" || m.Content != "hello" || m.Type != "IMAGE" {
		t.Fatalf("unexpected payload: %+v", m)
	}
	if m.FileURL == nil || *m.FileURL != "https://cdn.example.com/pic.png" {
		t.Fatalf("unexpected fileUrl: %v", m.FileURL)
	}
	if m.FileSize == nil || *m.FileSize != 1024 {
		t.Fatalf("unexpected fileSize: %v", m.FileSize)
	}
}

func TestParseClientMessage_MarkMessageRead(t *testing.T) {
	event, msg, err := ParseClientMessage([]byte(`{"event":"markMessageRead","messageId":"m1","chatId":"chat1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventMarkMessageRead {
		t.Fatalf("expected markMessageRead, got %q", event)
	}
	m := msg.(MarkMessageReadMsg)
	if m.MessageID != "m1" || m.ChatID != "chat1" {
		t.Fatalf("unexpected payload: %+v", m)
	}
}

func TestParseClientMessage_MissingEvent(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"chatId":"chat1"}`)); err == nil {
		t.Fatal("expected error for missing event field")
	}
}

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"event":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseClientMessage_UnknownEvent(t *testing.T) {
	event, _, err := ParseClientMessage([]byte(`{"event":"selfDestruct"}`))
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
	if event != "selfDestruct" {
		t.Fatalf("the unknown event name should still be reported, got %q", event)
	}
}

// Server-to-client events arriving from a client are rejected like any other
// unknown event.
func TestParseClientMessage_ServerOnlyEvent(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"event":"newMessage","chatId":"chat1"}`)); err == nil {
		t.Fatal("expected error for a server-only event")
	}
}

func TestNewServerMessage_InjectsEvent(t *testing.T) {
	frame, err := NewServerMessage(EventError, ErrorMsg{Message: "Access denied"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	if got["event"] != "error" || got["message"] != "Access denied" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

// The message fields are embedded at the top level of the newMessage frame,
// alongside the event discriminator.
func TestNewServerMessage_NewMessageIsFlat(t *testing.T) {
	frame, err := NewServerMessage(EventNewMessage, NewMessageMsg{
		Message: store.Message{
			ID:       "m1",
			ChatID:   "chat1",
			SenderID: "u1",
			Content:  "hello",
			Type:     "TEXT",
			Sender:   &store.User{ID: "u1", Username: "alice"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	if got["event"] != "newMessage" {
		t.Fatalf("expected newMessage, got %v", got["event"])
	}
	if got["id"] != "m1" || got["chatId"] != "chat1" || got["content"] != "hello" {
		t.Fatalf("message fields must sit at the top level, got %v", got)
	}
	sender, ok := got["sender"].(map[string]interface{})
	if !ok || sender["username"] != "alice" {
		t.Fatalf("unexpected sender: %v", got["sender"])
	}
}

func TestEnvelope_KeepsRawPayload(t *testing.T) {
	raw := []byte(`{"event":"typing","chatId":"chat1"}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Event != EventTyping {
		t.Fatalf("expected typing, got %q", env.Event)
	}
	if string(env.Raw) != string(raw) {
		t.Fatalf("raw payload must be preserved, got %s", env.Raw)
	}
}
