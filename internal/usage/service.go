package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrInvalidPoints is returned when a non-positive amount is recorded
var ErrInvalidPoints = errors.New("points must be positive")

// PlanLookup returns the user a quota applies to
type PlanLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service answers allowance checks from the monthly usage ledger
type Service struct {
	ledger repository.UsageRepository
	users  PlanLookup
	limits map[string]int
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewService creates a usage service with per-plan monthly limits
func NewService(ledger repository.UsageRepository, users PlanLookup, cfg config.UsageConfig, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		ledger: ledger,
		users:  users,
		limits: map[string]int{
			models.PlanFree: cfg.FreeLimit,
			models.PlanPro:  cfg.ProLimit,
		},
		logger: logger.WithField("component", "usage"),
		now:    time.Now,
	}
}

// PeriodStart returns the first instant of the month containing t, in UTC
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CheckAllowance reports whether userID may send another message this month
func (s *Service) CheckAllowance(ctx context.Context, userID uuid.UUID) (chat.Allowance, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return chat.Allowance{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return chat.Allowance{Allowed: false, Reason: "Your account is inactive."}, nil
	}

	limit, limited := s.limits[user.Plan]
	if !limited {
		// unlimited plans, and any plan without a configured limit
		return chat.Allowance{Allowed: true}, nil
	}

	used, err := s.ledger.SumSince(ctx, userID, PeriodStart(s.now()))
	if err != nil {
		return chat.Allowance{}, fmt.Errorf("failed to read usage: %w", err)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	allowance := chat.Allowance{Allowed: remaining > 0, Remaining: &remaining}
	if !allowance.Allowed {
		allowance.Reason = fmt.Sprintf("You have used all %d messages included in the %s plan this month.", limit, user.Plan)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"plan":      user.Plan,
		"used":      used,
		"remaining": remaining,
	}).Debug("allowance checked")
	return allowance, nil
}

// RecordUsage adds points to the user's ledger
func (s *Service) RecordUsage(ctx context.Context, userID uuid.UUID, points int) error {
	if points <= 0 {
		return ErrInvalidPoints
	}
	if err := s.ledger.Record(ctx, userID, points); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}
