package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogun586/jurist-mind-ai-sub000/internal/api"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/assistant"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/database"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/realtime"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

const defaultJWTSecret = "change-me-in-production"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.Log.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = defaultJWTSecret
		logger.Warn("Using default JWT secret. Set JURIST_JWT_SECRET in production!")
	}

	db, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	provider, err := assistant.New(cfg.Assistant)
	if err != nil {
		logger.WithError(err).Warn("Assistant provider unavailable, answering with the stub provider")
		provider = assistant.NewStubProvider()
	}
	provider = assistant.NewBreaker(provider, cfg.Assistant.BreakerThreshold, cfg.Assistant.BreakerCooldown, logger)

	svc := services.NewServices(db.DB, cfg, provider, logger)

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	listener := realtime.NewListener(realtime.PgxDialer(database.GetDSN(cfg.Database)), svc.Messages, hub, logger)
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.WithError(err).Error("Message listener stopped")
		}
	}()

	app := api.NewApp(cfg.Server, logger)
	api.SetupRoutes(app, cfg.Server, api.Deps{
		Services: svc,
		Hub:      hub,
		DB:       db,
		Logger:   logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":      addr,
			"assistant": provider.Name(),
		}).Info("Jurist Mind backend starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
