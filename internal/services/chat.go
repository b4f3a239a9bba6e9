package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/assistant"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrEmptyQuestion is returned when the question is blank
var ErrEmptyQuestion = errors.New("question is required")

// AskRequest is one question from the portal
type AskRequest struct {
	UserID    uuid.UUID
	SessionID string
	Question  string
}

// ChatService answers questions in the context of a session's history.
// Messages themselves are persisted by the client through the message log.
type ChatService struct {
	sessionRepo  repository.SessionRepository
	messageRepo  repository.MessageRepository
	provider     assistant.Provider
	historyLimit int
	logger       logrus.FieldLogger
}

// NewChatService creates a new chat service
func NewChatService(provider assistant.Provider, sessionRepo repository.SessionRepository, messageRepo repository.MessageRepository, historyLimit int, logger logrus.FieldLogger) *ChatService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		provider:     provider,
		historyLimit: historyLimit,
		logger:       logger.WithField("service", "chat"),
	}
}

// ProviderName returns the name of the answering provider
func (s *ChatService) ProviderName() string {
	return s.provider.Name()
}

// StreamAnswer starts streaming the answer to req
func (s *ChatService) StreamAnswer(ctx context.Context, req AskRequest) (<-chan assistant.Chunk, error) {
	areq, err := s.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"session_id": req.SessionID,
		"history":    len(areq.History),
		"provider":   s.provider.Name(),
	}).Info("Streaming answer")

	return s.provider.Stream(ctx, areq)
}

// Answer returns the complete answer to req
func (s *ChatService) Answer(ctx context.Context, req AskRequest) (*assistant.Answer, error) {
	areq, err := s.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return assistant.Collect(ctx, s.provider, areq)
}

func (s *ChatService) buildRequest(ctx context.Context, req AskRequest) (assistant.Request, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return assistant.Request{}, ErrEmptyQuestion
	}

	areq := assistant.Request{
		Question: question,
		UserID:   req.UserID.String(),
	}
	if req.SessionID == "" {
		return areq, nil
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return assistant.Request{}, repository.ErrNotFound
	}
	if _, err := s.sessionRepo.Get(ctx, req.UserID, sessionID); err != nil {
		return assistant.Request{}, err
	}
	areq.SessionID = req.SessionID

	if s.historyLimit <= 0 {
		return areq, nil
	}
	// one extra: the question itself is normally already stored
	history, err := s.messageRepo.Recent(ctx, sessionID, s.historyLimit+1)
	if err != nil {
		return assistant.Request{}, fmt.Errorf("failed to load history: %w", err)
	}
	if n := len(history); n > 0 && history[n-1].Role == string(chat.RoleUser) &&
		strings.TrimSpace(history[n-1].Content) == question {
		history = history[:n-1]
	}
	if len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}

	for _, m := range history {
		areq.History = append(areq.History, assistant.Turn{Role: chat.Role(m.Role), Content: m.Content})
	}
	return areq, nil
}
