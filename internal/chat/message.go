package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionTitle is the title a session carries until its first message names it
const DefaultSessionTitle = "New Chat"

// maxTitleRunes is the longest derived title before it gets an ellipsis
const maxTitleRunes = 50

// DeliveryState tracks how far a message has travelled towards durable storage
type DeliveryState int

const (
	// StateLocalOnly is a message that exists only in memory
	StateLocalOnly DeliveryState = iota
	// StatePendingConfirm is a message whose append has been issued but not acknowledged
	StatePendingConfirm
	// StateConfirmed is a message that carries its durable id
	StateConfirmed
	// StateUnsent is a message whose append failed; its content stays visible
	StateUnsent
)

func (s DeliveryState) String() string {
	switch s {
	case StateLocalOnly:
		return "local-only"
	case StatePendingConfirm:
		return "pending-confirm"
	case StateConfirmed:
		return "confirmed"
	case StateUnsent:
		return "unsent"
	default:
		return "unknown"
	}
}

// canAdvance reports whether a message may move from s to next.
// Confirmed is terminal; unsent may be retried.
func (s DeliveryState) canAdvance(next DeliveryState) bool {
	switch s {
	case StateLocalOnly:
		return next == StatePendingConfirm || next == StateConfirmed || next == StateUnsent
	case StatePendingConfirm:
		return next == StateConfirmed || next == StateUnsent
	case StateUnsent:
		return next == StatePendingConfirm || next == StateConfirmed
	default:
		return false
	}
}

// Source is a citation attached to an assistant answer
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Message is one entry of a conversation as the client sees it. CreatedAt is
// the store's timestamp; DisplayAt is CreatedAt raised to the predecessor's
// so shown times never go backwards.
type Message struct {
	LocalID     string        `json:"local_id,omitempty"`
	ID          string        `json:"id,omitempty"`
	SessionID   string        `json:"session_id"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"created_at"`
	PersistedAt time.Time     `json:"-"`
	DisplayAt   time.Time     `json:"-"`
	Sources     []Source      `json:"sources,omitempty"`
	State       DeliveryState `json:"-"`
}

// Key returns the durable id when known, otherwise the local id
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// Session is a persisted conversation
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Persisted is the acknowledgement of a durable append
type Persisted struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Allowance is the usage gate's answer for one pre-flight check
type Allowance struct {
	Allowed   bool   `json:"allowed"`
	Remaining *int   `json:"remaining,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// DeriveTitle turns the first message of a conversation into a session title
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return DefaultSessionTitle
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleRunes]) + "..."
}
