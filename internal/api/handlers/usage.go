package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
)

// GetAllowance answers whether the caller may send another message
func GetAllowance(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}

		allowance, err := svc.Usage.CheckAllowance(c.UserContext(), userContext.UserID)
		if err != nil {
			return internalError(c, err)
		}
		return c.JSON(allowance)
	}
}

// RecordUsage records consumption after a completed exchange
func RecordUsage(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}

		var req struct {
			Points int `json:"points"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		if req.Points <= 0 {
			return badRequest(c, "Points must be positive")
		}

		if err := svc.Usage.RecordUsage(c.UserContext(), userContext.UserID, req.Points); err != nil {
			return internalError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
