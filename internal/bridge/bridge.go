// Package bridge mirrors live events across server instances over NATS.
// A single process delivers everything locally; when several instances run
// behind a load balancer, each mirrors its room, per-user and presence
// frames to well-known subjects and replays frames published by the others.
// The same per-user subjects double as the push inlet for out-of-process
// producers (e.g. the REST backend announcing a friend request), replacing
// ad-hoc access to the socket layer with an explicit channel.
package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject layout. Every subject carries the entity ID as the final token;
// presence subjects name the transitioning user so replay can exclude that
// user's own connections on other instances.
const (
	subjectRoomPrefix     = "chat.room."
	subjectUserPrefix     = "chat.user."
	subjectPresencePrefix = "chat.presence."
)

// envelope wraps a wire frame with its originating instance so subscribers
// can skip frames they published themselves.
type envelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// LocalDelivery replays a remote frame to this instance's connections.
type LocalDelivery interface {
	DeliverRoom(chatID string, frame []byte)
	DeliverUser(userID string, frame []byte)
	DeliverPresence(userID string, frame []byte)
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chat-live",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bridge wraps the NATS connection for one server instance.
type Bridge struct {
	conn   *nats.Conn
	origin string // this instance's name, stamped on every published envelope
	subs   []*nats.Subscription
}

// Connect establishes the NATS connection. origin must be unique per
// instance (the server name); it is how an instance recognizes its own
// frames coming back.
func Connect(config Config, origin string) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("bridge: disconnected: %v", err)
			} else {
				log.Printf("bridge: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("bridge: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("bridge: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect: %w", err)
	}

	log.Printf("bridge: connected to %s origin=%s", nc.ConnectedUrl(), origin)

	return &Bridge{conn: nc, origin: origin}, nil
}

// Start subscribes to the room, user and presence subjects and replays
// remote frames through the given local delivery.
func (b *Bridge) Start(local LocalDelivery) error {
	roomSub, err := b.conn.Subscribe(subjectRoomPrefix+">", func(msg *nats.Msg) {
		if frame, ok := b.unwrap(msg.Data); ok {
			local.DeliverRoom(strings.TrimPrefix(msg.Subject, subjectRoomPrefix), frame)
		}
	})
	if err != nil {
		return fmt.Errorf("bridge: subscribe rooms: %w", err)
	}
	b.subs = append(b.subs, roomSub)

	userSub, err := b.conn.Subscribe(subjectUserPrefix+">", func(msg *nats.Msg) {
		if frame, ok := b.unwrap(msg.Data); ok {
			local.DeliverUser(strings.TrimPrefix(msg.Subject, subjectUserPrefix), frame)
		}
	})
	if err != nil {
		return fmt.Errorf("bridge: subscribe users: %w", err)
	}
	b.subs = append(b.subs, userSub)

	presenceSub, err := b.conn.Subscribe(subjectPresencePrefix+">", func(msg *nats.Msg) {
		if frame, ok := b.unwrap(msg.Data); ok {
			local.DeliverPresence(strings.TrimPrefix(msg.Subject, subjectPresencePrefix), frame)
		}
	})
	if err != nil {
		return fmt.Errorf("bridge: subscribe presence: %w", err)
	}
	b.subs = append(b.subs, presenceSub)

	return nil
}

// unwrap decodes an envelope and reports whether the frame should be
// replayed locally. Frames stamped with this instance's origin were already
// delivered locally and are skipped. Raw frames published without an
// envelope (external producers) are replayed as-is.
func (b *Bridge) unwrap(data []byte) ([]byte, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Frame) == 0 {
		return data, true
	}
	if env.Origin == b.origin {
		return nil, false
	}
	return env.Frame, true
}

// MirrorRoom publishes a room frame for other instances.
func (b *Bridge) MirrorRoom(chatID string, frame []byte) {
	b.publish(subjectRoomPrefix+chatID, frame)
}

// MirrorUser publishes a per-user frame for other instances.
func (b *Bridge) MirrorUser(userID string, frame []byte) {
	b.publish(subjectUserPrefix+userID, frame)
}

// MirrorPresence publishes a presence frame for other instances, addressed
// by the transitioning user.
func (b *Bridge) MirrorPresence(userID string, frame []byte) {
	b.publish(subjectPresencePrefix+userID, frame)
}

// publish wraps the frame in an origin envelope and publishes it. Publish
// failures are logged; mirroring is best-effort and never blocks local
// delivery.
func (b *Bridge) publish(subject string, frame []byte) {
	data, err := json.Marshal(envelope{Origin: b.origin, Frame: frame})
	if err != nil {
		log.Printf("bridge: marshal envelope subject=%s: %v", subject, err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("bridge: publish subject=%s: %v", subject, err)
	}
}

// Close drains all subscriptions and the connection.
func (b *Bridge) Close() {
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("bridge: drain %s: %v", sub.Subject, err)
		}
	}
	b.subs = nil

	if err := b.conn.Drain(); err != nil {
		log.Printf("bridge: connection drain: %v", err)
	}

	log.Printf("bridge: closed")
}

// Nop is the mirror used when NATS is not configured; every mirror call is
// a no-op.
type Nop struct{}

// MirrorRoom implements the mirror interfaces as a no-op.
func (Nop) MirrorRoom(string, []byte) {}

// MirrorUser implements the mirror interfaces as a no-op.
func (Nop) MirrorUser(string, []byte) {}

// MirrorPresence implements the mirror interfaces as a no-op.
func (Nop) MirrorPresence(string, []byte) {}
