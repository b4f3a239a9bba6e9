// Package realtime fans row-inserted events out to the websocket subscribers of each session.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/sirupsen/logrus"
)

// EventInsert is the only change type the feed emits
const EventInsert = "INSERT"

const sendBuffer = 64

// ErrHubStopped is returned when subscribing after Run has returned
var ErrHubStopped = errors.New("realtime hub stopped")

// ChangeEvent is one frame sent to subscribers
type ChangeEvent struct {
	Type   string       `json:"type"`
	Record chat.Message `json:"record"`
}

// Subscriber is one websocket connection listening to a session
type Subscriber struct {
	ID        string
	SessionID string
	Send      chan []byte
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// Hub manages subscribers grouped by session
type Hub struct {
	// subscriber id -> subscriber
	subscribers map[string]*Subscriber
	// session id -> subscriber ids
	sessions map[string]map[string]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan sessionMessage
	done       chan struct{}

	mu     sync.RWMutex
	logger logrus.FieldLogger
}

// NewHub creates a hub; call Run to start it
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan sessionMessage, 256),
		done:        make(chan struct{}),
		logger:      logger.WithField("component", "realtime_hub"),
	}
}

// Run processes registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, sub := range h.subscribers {
				close(sub.Send)
				delete(h.subscribers, id)
			}
			h.sessions = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			if h.sessions[sub.SessionID] == nil {
				h.sessions[sub.SessionID] = make(map[string]bool)
			}
			h.sessions[sub.SessionID][sub.ID] = true
			h.mu.Unlock()
			h.logger.WithFields(logrus.Fields{"subscriber": sub.ID, "session_id": sub.SessionID}).Debug("Subscriber registered")

		case sub := <-h.unregister:
			h.remove(sub)

		case msg := <-h.broadcast:
			var slow []*Subscriber
			h.mu.RLock()
			for id := range h.sessions[msg.sessionID] {
				sub := h.subscribers[id]
				select {
				case sub.Send <- msg.data:
				default:
					slow = append(slow, sub)
				}
			}
			h.mu.RUnlock()
			for _, sub := range slow {
				h.logger.WithField("subscriber", sub.ID).Warn("Subscriber buffer full, dropping")
				h.remove(sub)
			}
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	if ids := h.sessions[sub.SessionID]; ids != nil {
		delete(ids, sub.ID)
		if len(ids) == 0 {
			delete(h.sessions, sub.SessionID)
		}
	}
	close(sub.Send)
}

// Subscribe registers a new subscriber for sessionID. Its Send channel is
// closed when it is unsubscribed, dropped for being slow, or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (*Subscriber, error) {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Send:      make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes sub; it is safe to call more than once
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Broadcast queues raw data for every subscriber of sessionID
func (h *Hub) Broadcast(sessionID string, data []byte) {
	select {
	case h.broadcast <- sessionMessage{sessionID: sessionID, data: data}:
	case <-h.done:
	}
}

// PublishInsert broadcasts msg as an INSERT event on its session
func (h *Hub) PublishInsert(msg chat.Message) error {
	data, err := json.Marshal(ChangeEvent{Type: EventInsert, Record: msg})
	if err != nil {
		return err
	}
	h.Broadcast(msg.SessionID, data)
	return nil
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HasSubscribers reports whether anyone is listening to sessionID
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}
