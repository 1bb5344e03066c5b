package ws

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pulse/chat-app/internal/store"
)

func testServerConfig() ServerConfig {
	config := DefaultServerConfig()
	config.ReadTimeout = time.Second
	config.WriteTimeout = time.Second
	return config
}

func admitAlice(_ context.Context, _ string) (*store.User, error) {
	return &store.User{ID: "alice", Username: "alice"}, nil
}

// A client may fire its first frame the instant the 101 lands. That frame
// must never be handed to the message callback before the connect callback
// has finished registering the connection.
func TestUpgradeCompletesConnectBeforeFirstFrame(t *testing.T) {
	connected := make(chan struct{})
	handled := make(chan bool, 1)

	s := NewServer(testServerConfig(), admitAlice, func(_ *Connection, _ []byte) {
		select {
		case <-connected:
			handled <- true
		default:
			handled <- false
		}
	})
	s.SetOnConnect(func(_ *Connection, _ *store.User) {
		// Slow admission widens the window between the 101 response and the
		// connection becoming readable to the event loop.
		time.Sleep(100 * time.Millisecond)
		close(connected)
	})

	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		t.Fatalf("create epoll: %v", err)
	}
	go s.startEventLoop()
	t.Cleanup(func() {
		close(s.done)
		s.epoll.Close()
	})

	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?token=t"
	cli, _, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { cli.Close() })

	if err := wsutil.WriteClientText(cli, []byte(`{"event":"ping"}`)); err != nil {
		t.Fatalf("write first frame: %v", err)
	}

	select {
	case ok := <-handled:
		if !ok {
			t.Fatal("first frame was handled before the connect callback finished")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first frame to be handled")
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	received := make(chan []byte, 1)
	s := NewServer(testServerConfig(), admitAlice, func(_ *Connection, data []byte) {
		received <- data
	})

	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		t.Fatalf("create epoll: %v", err)
	}
	t.Cleanup(func() { s.epoll.Close() })

	disconnected := make(chan struct{})
	s.SetOnDisconnect(func(_ *Connection) { close(disconnected) })

	srv, cli := net.Pipe()
	t.Cleanup(func() {
		srv.Close()
		cli.Close()
	})

	c := &Connection{ID: "c1", UserID: "alice", Conn: srv, Fd: -1}
	c.Touch()
	s.conns.Add(c)

	// Declare a payload far above the configured cap; the payload itself is
	// never sent and must never be allocated for.
	go func() {
		_ = ws.WriteHeader(cli, ws.Header{
			Fin:    true,
			OpCode: ws.OpText,
			Masked: true,
			Mask:   [4]byte{1, 2, 3, 4},
			Length: 1 << 30,
		})
	}()

	s.handleConn(srv)

	select {
	case <-disconnected:
	default:
		t.Fatal("oversized frame must tear the connection down")
	}
	if got := s.conns.Count(); got != 0 {
		t.Fatalf("connection still registered after oversized frame, count=%d", got)
	}
	select {
	case data := <-received:
		t.Fatalf("oversized frame must not reach the message callback, got %d bytes", len(data))
	default:
	}
}
