package services

import (
	"github.com/jmoiron/sqlx"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/assistant"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/auth"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository/postgres"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/usage"
	"github.com/sirupsen/logrus"
)

// Services holds all service instances used by the API
type Services struct {
	Auth  *auth.Service
	Chat  *ChatService
	Usage *usage.Service

	Users    auth.UserRepository
	Sessions repository.SessionRepository
	Messages repository.MessageRepository
}

// NewServices creates all service instances on top of db
func NewServices(db *sqlx.DB, cfg *config.Config, provider assistant.Provider, logger logrus.FieldLogger) *Services {
	users := postgres.NewUserRepository(db)
	sessions := postgres.NewSessionRepository(db)
	messages := postgres.NewMessageRepository(db)
	ledger := postgres.NewUsageRepository(db)

	return &Services{
		Auth:     auth.NewService(users, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, logger),
		Chat:     NewChatService(provider, sessions, messages, cfg.Assistant.HistoryLimit, logger),
		Usage:    usage.NewService(ledger, users, cfg.Usage, logger),
		Users:    users,
		Sessions: sessions,
		Messages: messages,
	}
}
