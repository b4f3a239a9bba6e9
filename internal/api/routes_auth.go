package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/handlers"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
)

// setupProtectedRoutes configures the routes that require a signed-in user
func setupProtectedRoutes(app *fiber.App, api fiber.Router, cfg config.ServerConfig, deps Deps) {
	svc := deps.Services
	protected := api.Group("", middleware.AuthRequired(svc.Auth))

	protected.Get("/auth/me", handlers.GetCurrentUser(svc))

	// Sessions
	protected.Post("/sessions", handlers.CreateSession(svc))
	protected.Get("/sessions", handlers.GetSessions(svc))
	protected.Get("/sessions/latest", handlers.GetLatestSession(svc))
	protected.Get("/sessions/:id", handlers.GetSession(svc))
	protected.Put("/sessions/:id", handlers.UpdateSession(svc))
	protected.Delete("/sessions/:id", handlers.DeleteSession(svc))

	// Message log
	protected.Post("/sessions/:id/messages", handlers.AppendMessage(svc))
	protected.Get("/sessions/:id/messages", handlers.GetSessionMessages(svc))

	// Usage gate
	protected.Get("/usage/allowance", handlers.GetAllowance(svc))
	protected.Post("/usage/record", handlers.RecordUsage(svc))

	// Assistant
	protected.Post("/chat/ask", middleware.AskRateLimit(cfg.AskRateLimit), handlers.Ask(svc))

	// Row-inserted feed; browsers cannot set headers on websockets so ?token= is accepted
	if deps.Hub != nil {
		app.Get("/ws/sessions/:id",
			middleware.WebSocketAuth(svc.Auth),
			handlers.RequireSessionUpgrade(svc),
			handlers.SessionFeed(deps.Hub),
		)
	}
}
