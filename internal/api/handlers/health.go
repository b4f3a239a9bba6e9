package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Healthy(ctx context.Context) error
}

// Health reports service and database status
func Health(db Pinger, provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status":    "healthy",
			"service":   "jurist-mind",
			"assistant": provider,
			"database":  "ok",
		}
		if db != nil {
			if err := db.Healthy(c.UserContext()); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				return c.Status(fiber.StatusServiceUnavailable).JSON(status)
			}
		}
		return c.JSON(status)
	}
}
