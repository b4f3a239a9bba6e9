package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/realtime"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 45 * time.Second
	wsMaxMessage   = 4096
)

// RequireSessionUpgrade admits websocket upgrades for sessions the caller owns
func RequireSessionUpgrade(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		session, err := ownedSession(c, svc)
		if err != nil {
			return sessionError(c, err)
		}
		c.Locals("session_id", session.ID.String())
		return c.Next()
	}
}

// SessionFeed streams INSERT events of one session to a websocket
func SessionFeed(hub *realtime.Hub) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		sessionID, _ := conn.Locals("session_id").(string)
		logger := logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"user_id":    conn.Locals("user_id"),
		})

		sub, err := hub.Subscribe(context.Background(), sessionID)
		if err != nil {
			logger.WithError(err).Warn("Failed to subscribe")
			return
		}
		defer hub.Unsubscribe(context.Background(), sub)

		closed := make(chan struct{})
		go readPump(conn, closed)
		writePump(conn, sub, closed, logger)
	})
}

// readPump drains client frames so pongs and close frames are processed
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *realtime.Subscriber, closed <-chan struct{}, logger logrus.FieldLogger) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case data, ok := <-sub.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WithError(err).Debug("Failed to write event")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
