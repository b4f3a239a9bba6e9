package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
)

const maxTitleLength = 200

// CreateSession creates a new chat session owned by the caller
func CreateSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}

		var req struct {
			Title string `json:"title"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "Invalid request body")
			}
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = chat.DefaultSessionTitle
		}

		session, err := svc.Sessions.Create(c.UserContext(), userContext.UserID, title)
		if err != nil {
			return internalError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(session.ToChat())
	}
}

// GetSessions returns the caller's sessions, most recently updated first
func GetSessions(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}

		sessions, err := svc.Sessions.List(c.UserContext(), userContext.UserID)
		if err != nil {
			return internalError(c, err)
		}

		out := make([]chat.Session, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, s.ToChat())
		}
		return c.JSON(out)
	}
}

// GetLatestSession returns the caller's most recently updated session
func GetLatestSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}

		session, err := svc.Sessions.Latest(c.UserContext(), userContext.UserID)
		if err != nil {
			return notFoundOr(c, err, "No sessions yet")
		}
		return c.JSON(session.ToChat())
	}
}

// GetSession returns a specific session
func GetSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext, id, err := caller(c)
		if err != nil {
			return err
		}

		session, err := svc.Sessions.Get(c.UserContext(), userContext.UserID, id)
		if err != nil {
			return notFoundOr(c, err, "Session not found")
		}
		return c.JSON(session.ToChat())
	}
}

// UpdateSession renames a session
func UpdateSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext, id, err := caller(c)
		if err != nil {
			return err
		}

		var req struct {
			Title string `json:"title"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			return badRequest(c, "Title is required")
		}
		if len([]rune(title)) > maxTitleLength {
			title = string([]rune(title)[:maxTitleLength])
		}

		session, err := svc.Sessions.Rename(c.UserContext(), userContext.UserID, id, title)
		if err != nil {
			return notFoundOr(c, err, "Session not found")
		}
		return c.JSON(session.ToChat())
	}
}

// DeleteSession deletes a session and, by cascade, its messages
func DeleteSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext, id, err := caller(c)
		if err != nil {
			return err
		}

		if err := svc.Sessions.Delete(c.UserContext(), userContext.UserID, id); err != nil {
			return notFoundOr(c, err, "Session not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ownedSession verifies the caller owns the :id session
func ownedSession(c *fiber.Ctx, svc *services.Services) (*repository.Session, error) {
	userContext, id, err := caller(c)
	if err != nil {
		return nil, err
	}
	session, err := svc.Sessions.Get(c.UserContext(), userContext.UserID, id)
	if err != nil {
		return nil, err
	}
	return session, nil
}
