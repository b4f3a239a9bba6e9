package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/database"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
)

const messageColumns = `id, session_id, role, content, sources, created_at`

// MessageRepository implements repository.MessageRepository using PostgreSQL
type MessageRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &MessageRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts the message and refreshes the owning session's updated_at
// to the message's created_at in the same transaction
func (r *MessageRepository) Create(ctx context.Context, message *repository.Message) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	message.CreatedAt = r.now()
	if message.Sources == nil {
		message.Sources = repository.Sources{}
	}

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		insert := `
			INSERT INTO messages (id, session_id, role, content, sources, created_at)
			VALUES (:id, :session_id, :role, :content, :sources, :created_at)
		`
		if _, err := tx.NamedExecContext(ctx, insert, message); err != nil {
			return err
		}

		touch := `UPDATE sessions SET updated_at = $2 WHERE id = $1 AND updated_at < $2`
		_, err := tx.ExecContext(ctx, touch, message.SessionID, message.CreatedAt)
		return err
	})
}

// Get retrieves one message by id
func (r *MessageRepository) Get(ctx context.Context, id uuid.UUID) (*repository.Message, error) {
	var message repository.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &message, nil
}

// ListBySession retrieves messages for a session
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]repository.Message, error) {
	messages := []repository.Message{}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &messages, query, sessionID); err != nil {
		return nil, err
	}
	return messages, nil
}

// Recent retrieves the newest limit messages of a session in ascending order
func (r *MessageRepository) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]repository.Message, error) {
	messages := []repository.Message{}
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &messages, query, sessionID, limit); err != nil {
		return nil, err
	}
	return messages, nil
}
