package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller
var ErrNotFound = errors.New("not found")

// Session represents a chat session
type Session struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Source is a citation stored with an assistant message
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Sources is stored as a JSONB array
type Sources []Source

// Value implements driver.Valuer
func (s Sources) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *Sources) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Sources", value)
	}
	return json.Unmarshal(raw, s)
}

// Message represents a chat message
type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	Sources   Sources   `db:"sources" json:"sources,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ToChat converts a stored message into its wire form
func (m Message) ToChat() chat.Message {
	out := chat.Message{
		ID:          m.ID.String(),
		SessionID:   m.SessionID.String(),
		Role:        chat.Role(m.Role),
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		PersistedAt: m.CreatedAt,
		State:       chat.StateConfirmed,
	}
	for _, src := range m.Sources {
		out.Sources = append(out.Sources, chat.Source{Title: src.Title, URL: src.URL})
	}
	return out
}

// ToChat converts a stored session into its wire form
func (s Session) ToChat() chat.Session {
	return chat.Session{
		ID:        s.ID.String(),
		UserID:    s.UserID.String(),
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// SessionRepository defines session storage operations. Every call is scoped to the owning user.
type SessionRepository interface {
	Create(ctx context.Context, userID uuid.UUID, title string) (*Session, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*Session, error)
	Latest(ctx context.Context, userID uuid.UUID) (*Session, error)
	List(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	Rename(ctx context.Context, userID, id uuid.UUID, title string) (*Session, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// MessageRepository defines message storage operations
type MessageRepository interface {
	// Create inserts the message and moves the session's updated_at to its created_at
	Create(ctx context.Context, message *Message) error
	Get(ctx context.Context, id uuid.UUID) (*Message, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
	// Recent returns up to limit of the newest messages, oldest first
	Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error)
}

// UsageRepository records quota consumption
type UsageRepository interface {
	Record(ctx context.Context, userID uuid.UUID, points int) error
	// SumSince returns the points recorded for userID at or after since
	SumSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}
