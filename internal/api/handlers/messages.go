package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
)

// AppendMessageRequest is one message written to a session's log
type AppendMessageRequest struct {
	Role    string        `json:"role"`
	Content string        `json:"content"`
	Sources []chat.Source `json:"sources"`
}

// AppendMessage appends a message to the caller's session
func AppendMessage(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := ownedSession(c, svc)
		if err != nil {
			return sessionError(c, err)
		}

		var req AppendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		role := chat.Role(strings.ToLower(req.Role))
		if role != chat.RoleUser && role != chat.RoleAssistant {
			return badRequest(c, "Role must be user or assistant")
		}
		if strings.TrimSpace(req.Content) == "" {
			return badRequest(c, "Content is required")
		}

		msg := &repository.Message{
			SessionID: session.ID,
			Role:      string(role),
			Content:   req.Content,
		}
		for _, src := range req.Sources {
			msg.Sources = append(msg.Sources, repository.Source{Title: src.Title, URL: src.URL})
		}
		if err := svc.Messages.Create(c.UserContext(), msg); err != nil {
			return internalError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(chat.Persisted{
			ID:        msg.ID.String(),
			CreatedAt: msg.CreatedAt,
		})
	}
}

// GetSessionMessages returns a session's messages in creation order
func GetSessionMessages(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := ownedSession(c, svc)
		if err != nil {
			return sessionError(c, err)
		}

		messages, err := svc.Messages.ListBySession(c.UserContext(), session.ID)
		if err != nil {
			return internalError(c, err)
		}

		out := make([]chat.Message, 0, len(messages))
		for _, m := range messages {
			out = append(out, m.ToChat())
		}
		return c.JSON(out)
	}
}

func sessionError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return err
	}
	return notFoundOr(c, err, "Session not found")
}
