// Package store provides PostgreSQL-backed access to the chat backend's
// persisted entities (users, chats, chat membership, messages). The live
// layer owns no durable state of its own; everything it needs to read or
// write goes through this package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// User is the minimal user identity carried on live events.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Avatar    string     `json:"avatar,omitempty"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// Message is a persisted chat message as delivered on the wire.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	ReceiverID *string   `json:"receiverId,omitempty"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	FileURL    *string   `json:"fileUrl,omitempty"`
	FileName   *string   `json:"fileName,omitempty"`
	FileSize   *int64    `json:"fileSize,omitempty"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Sender     *User     `json:"sender,omitempty"`
	Receiver   *User     `json:"receiver,omitempty"`
}

// NewMessage holds the fields required to persist a message.
type NewMessage struct {
	ChatID     string
	SenderID   string
	ReceiverID *string
	Content    string
	Type       string
	FileURL    *string
	FileName   *string
	FileSize   *int64
}

// Store wraps a PostgreSQL database handle.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL using the given connection URL and verifies
// the connection with a ping.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle. Used by tests and by callers
// that manage the handle themselves.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindUserByID returns the user with the given ID, or nil if no such user
// exists.
func (s *Store) FindUserByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, username, first_name, last_name, avatar, is_online, last_seen
		FROM users
		WHERE id = $1`

	var (
		u        User
		avatar   sql.NullString
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &avatar, &u.IsOnline, &lastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find user %s: %w", id, err)
	}

	u.Avatar = avatar.String
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeen = &t
	}
	return &u, nil
}

// IsChatMember reports whether the user has a persisted membership row for
// the chat.
func (s *Store) IsChatMember(ctx context.Context, userID, chatID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM chat_members WHERE user_id = $1 AND chat_id = $2
		)`

	var member bool
	if err := s.db.QueryRowContext(ctx, query, userID, chatID).Scan(&member); err != nil {
		return false, fmt.Errorf("store: membership check user=%s chat=%s: %w", userID, chatID, err)
	}
	return member, nil
}

// ListChatMembers returns the user IDs of every persisted member of the chat.
func (s *Store) ListChatMembers(ctx context.Context, chatID string) ([]string, error) {
	const query = `SELECT user_id FROM chat_members WHERE chat_id = $1`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list members chat=%s: %w", chatID, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan member chat=%s: %w", chatID, err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list members chat=%s: %w", chatID, err)
	}
	return members, nil
}

// CreateMessage inserts a message row and returns the persisted message with
// the sender (and receiver, if any) identity embedded.
func (s *Store) CreateMessage(ctx context.Context, m NewMessage) (*Message, error) {
	if m.Type == "" {
		m.Type = "TEXT"
	}

	const query = `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, content, type, file_url, file_name, file_size)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, is_read, created_at, updated_at`

	msg := &Message{
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		FileURL:    m.FileURL,
		FileName:   m.FileName,
		FileSize:   m.FileSize,
	}
	err := s.db.QueryRowContext(ctx, query,
		m.ChatID, m.SenderID, m.ReceiverID, m.Content, m.Type,
		m.FileURL, m.FileName, m.FileSize,
	).Scan(&msg.ID, &msg.IsRead, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create message chat=%s: %w", m.ChatID, err)
	}

	sender, err := s.FindUserByID(ctx, m.SenderID)
	if err != nil {
		return nil, err
	}
	msg.Sender = sender

	if m.ReceiverID != nil {
		receiver, err := s.FindUserByID(ctx, *m.ReceiverID)
		if err != nil {
			return nil, err
		}
		msg.Receiver = receiver
	}

	return msg, nil
}

// TouchChat bumps the chat's updated_at so chat-list ordering reflects the
// most recent message.
func (s *Store) TouchChat(ctx context.Context, chatID string) error {
	const query = `UPDATE chats SET updated_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("store: touch chat %s: %w", chatID, err)
	}
	return nil
}

// UpdateUserPresence writes the user's online flag. lastSeen is only written
// when non-nil (on the offline transition).
func (s *Store) UpdateUserPresence(ctx context.Context, userID string, isOnline bool, lastSeen *time.Time) error {
	var err error
	if lastSeen != nil {
		const query = `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`
		_, err = s.db.ExecContext(ctx, query, userID, isOnline, *lastSeen)
	} else {
		const query = `UPDATE users SET is_online = $2 WHERE id = $1`
		_, err = s.db.ExecContext(ctx, query, userID, isOnline)
	}
	if err != nil {
		return fmt.Errorf("store: update presence user=%s: %w", userID, err)
	}
	return nil
}

// MarkMessageRead flips the message's read flag.
func (s *Store) MarkMessageRead(ctx context.Context, messageID string) error {
	const query = `UPDATE messages SET is_read = TRUE, updated_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, messageID); err != nil {
		return fmt.Errorf("store: mark read message=%s: %w", messageID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
