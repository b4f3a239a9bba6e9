package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/sirupsen/logrus"
)

// Channel is the Postgres notification channel fed by the messages insert trigger
const Channel = "message_inserted"

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// NotificationConn is a connection that has issued LISTEN and yields payloads
type NotificationConn interface {
	Listen(ctx context.Context, channel string) error
	// Next blocks until a notification arrives and returns its payload
	Next(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Dialer opens a NotificationConn
type Dialer func(ctx context.Context) (NotificationConn, error)

// MessageLoader fetches the full row a notification refers to
type MessageLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*repository.Message, error)
}

// Publisher receives every inserted message
type Publisher interface {
	PublishInsert(msg chat.Message) error
}

type pgxConn struct {
	conn *pgx.Conn
}

// PgxDialer dials dsn with pgx for each listen attempt
func PgxDialer(dsn string) Dialer {
	return func(ctx context.Context) (NotificationConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &pgxConn{conn: conn}, nil
	}
}

func (c *pgxConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (c *pgxConn) Next(ctx context.Context) (string, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Listener turns database notifications into hub broadcasts
type Listener struct {
	dial     Dialer
	messages MessageLoader
	out      Publisher
	logger   logrus.FieldLogger
}

// NewListener creates a listener
func NewListener(dial Dialer, messages MessageLoader, out Publisher, logger logrus.FieldLogger) *Listener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Listener{
		dial:     dial,
		messages: messages,
		out:      out,
		logger:   logger.WithField("component", "message_listener"),
	}
}

// Run listens until ctx is done, reconnecting with exponential backoff
func (l *Listener) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := l.listenOnce(ctx, func() { backoff = minBackoff })
		if ctx.Err() != nil {
			return nil
		}
		l.logger.WithError(err).WithField("retry_in", backoff).Warn("Notification listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, connected func()) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	if err := conn.Listen(ctx, Channel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	connected()
	l.logger.WithField("channel", Channel).Info("Listening for inserted messages")

	for {
		payload, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		if err := l.handle(ctx, payload); err != nil {
			l.logger.WithError(err).WithField("payload", payload).Warn("Dropped message notification")
		}
	}
}

type insertedPayload struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

func (l *Listener) handle(ctx context.Context, payload string) error {
	var p insertedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}

	msg, err := l.messages.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return l.out.PublishInsert(msg.ToChat())
}
