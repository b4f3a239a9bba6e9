package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
)

const sessionColumns = `id, user_id, title, created_at, updated_at`

// SessionRepository implements repository.SessionRepository using PostgreSQL
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, userID uuid.UUID, title string) (*repository.Session, error) {
	now := time.Now().UTC()
	session := &repository.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO sessions (id, user_id, title, created_at, updated_at)
		VALUES (:id, :user_id, :title, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get retrieves a session owned by userID
func (r *SessionRepository) Get(ctx context.Context, userID, id uuid.UUID) (*repository.Session, error) {
	var session repository.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_id = $2`

	if err := r.db.GetContext(ctx, &session, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// Latest retrieves the most recently updated session of userID
func (r *SessionRepository) Latest(ctx context.Context, userID uuid.UUID) (*repository.Session, error) {
	var session repository.Session
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &session, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// List retrieves all sessions of userID, most recently updated first
func (r *SessionRepository) List(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	sessions := []*repository.Session{}
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	if err := r.db.SelectContext(ctx, &sessions, query, userID); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Rename sets the title. updated_at is left alone so ordering follows message activity.
func (r *SessionRepository) Rename(ctx context.Context, userID, id uuid.UUID, title string) (*repository.Session, error) {
	var session repository.Session
	query := `
		UPDATE sessions SET title = $3
		WHERE id = $1 AND user_id = $2
		RETURNING ` + sessionColumns

	if err := r.db.GetContext(ctx, &session, query, id, userID, title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// Delete deletes a session; its messages go with it
func (r *SessionRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	query := "DELETE FROM sessions WHERE id = $1 AND user_id = $2"
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
