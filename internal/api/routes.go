package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/handlers"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/realtime"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

// Deps is everything the routes need
type Deps struct {
	Services *services.Services
	Hub      *realtime.Hub
	DB       handlers.Pinger
	Logger   logrus.FieldLogger
}

// NewApp creates the fiber app with global middleware installed
func NewApp(cfg config.ServerConfig, logger logrus.FieldLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "jurist-mind",
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.AccessLog(middleware.AccessLogConfig{
		Logger:    logger,
		SkipPaths: []string{"/api/v1/health"},
	}))

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	return app
}

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, cfg config.ServerConfig, deps Deps) {
	api := app.Group("/api/v1")

	// Public routes
	api.Get("/health", handlers.Health(deps.DB, deps.Services.Chat.ProviderName()))
	authGroup := api.Group("/auth")
	authGroup.Post("/login", middleware.AuthRateLimit(), handlers.Login(deps.Services))

	setupProtectedRoutes(app, api, cfg, deps)
}
