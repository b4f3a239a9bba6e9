package chat

import "context"

// SessionStore persists conversations and their ownership
type SessionStore interface {
	// CreateSession creates a session titled DefaultSessionTitle and returns its id
	CreateSession(ctx context.Context, ownerID string) (string, error)
	// MostRecentSession returns the most recently updated session id, or "" when there is none
	MostRecentSession(ctx context.Context, ownerID string) (string, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, ownerID string) ([]Session, error)
}

// MessageLog is the durable, append-only message history of each session
type MessageLog interface {
	Append(ctx context.Context, sessionID string, role Role, content string, sources []Source) (Persisted, error)
	// ListBySession returns the full history in ascending creation order
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
}

// UsageGate checks and records quota consumption
type UsageGate interface {
	CheckAllowance(ctx context.Context, userID string) (Allowance, error)
	RecordUsage(ctx context.Context, userID string, points int) error
}

// Subscriber opens push channels delivering row-inserted events for a session
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription is one open push channel
type Subscription interface {
	Events() <-chan Message
	Close() error
}
