package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/assistant"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

// AskRequest is the form posted by the chat client
type AskRequest struct {
	Question string `form:"question" json:"question"`
	ChatID   string `form:"chat_id" json:"chat_id"`
	// UserID is informational; the authenticated user always wins
	UserID string `form:"user_id" json:"user_id"`
}

// streamFrame is one SSE data payload
type streamFrame struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	Sources []chat.Source `json:"sources,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// AskResponse is the non-streaming answer
type AskResponse struct {
	Answer  string        `json:"answer"`
	Sources []chat.Source `json:"sources"`
}

// Ask answers a question, streaming server-sent events unless ?stream=false
func Ask(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}

		var req AskRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		askReq := services.AskRequest{
			UserID:    userContext.UserID,
			SessionID: req.ChatID,
			Question:  req.Question,
		}

		if !c.QueryBool("stream", true) {
			answer, err := svc.Chat.Answer(c.UserContext(), askReq)
			if err != nil {
				return askError(c, err)
			}
			sources := answer.Sources
			if sources == nil {
				sources = []chat.Source{}
			}
			return c.JSON(AskResponse{Answer: answer.Text, Sources: sources})
		}

		// the body is written after this handler returns
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := svc.Chat.StreamAnswer(ctx, askReq)
		if err != nil {
			cancel()
			return askError(c, err)
		}

		logger := logrus.WithFields(logrus.Fields{
			"user_id":    userContext.UserID,
			"session_id": req.ChatID,
		})

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()

			chunks := 0
			for chunk := range stream {
				var frame streamFrame
				switch {
				case chunk.Err != nil:
					logger.WithError(chunk.Err).WithField("chunks", chunks).Warn("Answer stream failed")
					frame = streamFrame{Type: "error", Error: "The assistant stopped responding"}
				case chunk.Done:
					frame = streamFrame{Type: "done", Sources: chunk.Sources}
				case chunk.Delta == "":
					continue
				default:
					chunks++
					frame = streamFrame{Type: "delta", Content: chunk.Delta}
				}

				if err := writeEvent(w, frame); err != nil {
					logger.WithError(err).Debug("Client went away during stream")
					return
				}
				if chunk.Err != nil {
					return
				}
			}

			fmt.Fprint(w, "data: [DONE]\n\n")
			if err := w.Flush(); err != nil {
				logger.WithError(err).Debug("Client went away before stream end")
				return
			}
			logger.WithField("chunks", chunks).Info("Answer streamed")
		})
		return nil
	}
}

func writeEvent(w *bufio.Writer, frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func askError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEmptyQuestion):
		return badRequest(c, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	case errors.Is(err, assistant.ErrProviderUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		logrus.WithError(err).Error("Failed to start answer")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "The assistant is unavailable"})
	}
}
