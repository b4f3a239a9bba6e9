package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/sirupsen/logrus"
)

const (
	eventInsert      = "INSERT"
	realtimeBuffer   = 64
	handshakeTimeout = 10 * time.Second
)

// ChangeEvent is one push-channel frame
type ChangeEvent struct {
	Type   string       `json:"type"`
	Record chat.Message `json:"record"`
}

// Realtime opens per-session push channels to the backend websocket endpoint
type Realtime struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  logrus.FieldLogger
}

// NewRealtime creates a subscriber for the backend at baseURL (http or https)
func NewRealtime(baseURL, token string, logger logrus.FieldLogger) *Realtime {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Realtime{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger.WithField("component", "realtime_client"),
	}
}

// Subscribe connects to the row-inserted feed of sessionID
func (r *Realtime) Subscribe(ctx context.Context, sessionID string) (chat.Subscription, error) {
	endpoint, err := r.endpoint(sessionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := r.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	s := &subscription{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan chat.Message, realtimeBuffer),
		done:      make(chan struct{}),
		logger:    r.logger.WithField("session_id", sessionID),
	}
	go s.readLoop()
	return s, nil
}

func (r *Realtime) endpoint(sessionID string) (string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u = u.JoinPath("ws", "sessions", sessionID)
	q := u.Query()
	q.Set("token", r.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type subscription struct {
	conn      *websocket.Conn
	sessionID string
	events    chan chat.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    logrus.FieldLogger
}

func (s *subscription) Events() <-chan chat.Message {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *subscription) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.WithError(err).Warn("push channel read failed")
				}
			}
			return
		}

		var evt ChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.WithError(err).Debug("skipping malformed push frame")
			continue
		}
		if evt.Type != eventInsert || evt.Record.SessionID != s.sessionID {
			continue
		}

		select {
		case s.events <- evt.Record:
		case <-s.done:
			return
		}
	}
}
