package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/pulse/chat-app/internal/protocol"
)

// testConn wraps a Connection over one end of a net.Pipe and collects the
// frames the dispatcher writes back to the client.
type testConn struct {
	conn   *Connection
	frames chan []byte
}

func newTestConn(t *testing.T) *testConn {
	t.Helper()

	srv, cli := net.Pipe()
	t.Cleanup(func() {
		srv.Close()
		cli.Close()
	})

	tc := &testConn{
		conn:   &Connection{ID: "conn-1", UserID: "u1", Username: "alice", Conn: srv},
		frames: make(chan []byte, 16),
	}
	go func() {
		for {
			data, err := wsutil.ReadServerText(cli)
			if err != nil {
				return
			}
			tc.frames <- data
		}
	}()
	return tc
}

func (tc *testConn) next(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case frame := <-tc.frames:
		var out map[string]interface{}
		if err := json.Unmarshal(frame, &out); err != nil {
			t.Fatalf("undecodable frame: %v", err)
		}
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func (tc *testConn) expectNone(t *testing.T) {
	t.Helper()
	select {
	case frame := <-tc.frames:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher(nil)
	tc := newTestConn(t)

	var got protocol.JoinChatMsg
	d.Register(protocol.EventJoinChat, func(_ *Connection, msg interface{}) {
		got = msg.(protocol.JoinChatMsg)
	})

	d.Dispatch(tc.conn, []byte(`{"event":"joinChat","chatId":"chat1"}`))

	if got.ChatID != "chat1" {
		t.Fatalf("handler not invoked with the decoded payload, got %+v", got)
	}
	tc.expectNone(t)
}

func TestDispatch_PingAnsweredInternally(t *testing.T) {
	d := NewMessageDispatcher(nil)
	tc := newTestConn(t)
	before := tc.conn.LastActive()

	d.Dispatch(tc.conn, []byte(`{"event":"ping"}`))

	if got := tc.next(t); got["event"] != "pong" {
		t.Fatalf("expected pong, got %v", got)
	}
	if !tc.conn.LastActive().After(before) {
		t.Fatal("activity timestamp must advance on ping")
	}
}

func TestDispatch_MalformedFrame(t *testing.T) {
	d := NewMessageDispatcher(nil)
	tc := newTestConn(t)

	d.Dispatch(tc.conn, []byte(`{not json`))

	got := tc.next(t)
	if got["event"] != "error" || got["message"] != "invalid message format" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestDispatch_UnregisteredEvent(t *testing.T) {
	d := NewMessageDispatcher(nil)
	tc := newTestConn(t)

	d.Dispatch(tc.conn, []byte(`{"event":"sendMessage","chatId":"chat1","content":"hi"}`))

	got := tc.next(t)
	if got["event"] != "error" || got["message"] != "unsupported event" {
		t.Fatalf("unexpected frame: %v", got)
	}
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	d := NewMessageDispatcher(nil)
	tc := newTestConn(t)

	d.Register(protocol.EventJoinChat, func(*Connection, interface{}) {
		panic("boom")
	})

	d.Dispatch(tc.conn, []byte(`{"event":"joinChat","chatId":"chat1"}`))

	got := tc.next(t)
	if got["event"] != "error" || got["message"] != "internal error" {
		t.Fatalf("panic must surface as an internal error event, got %v", got)
	}
}
