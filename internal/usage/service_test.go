package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	used     int
	since    time.Time
	recorded int
	err      error
}

func (f *fakeLedger) Record(ctx context.Context, userID uuid.UUID, points int) error {
	f.recorded += points
	return f.err
}

func (f *fakeLedger) SumSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	f.since = since
	return f.used, f.err
}

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func newTestService(plan string, used int) (*Service, *fakeLedger, uuid.UUID) {
	id := uuid.New()
	ledger := &fakeLedger{used: used}
	logger, _ := test.NewNullLogger()
	svc := NewService(ledger, fakeUsers{id: {ID: id, Plan: plan, IsActive: true}},
		config.UsageConfig{FreeLimit: 50, ProLimit: 2000}, logger)
	svc.now = func() time.Time { return time.Date(2026, 7, 19, 15, 30, 0, 0, time.UTC) }
	return svc, ledger, id
}

func TestService_CheckAllowance(t *testing.T) {
	tests := []struct {
		name      string
		plan      string
		used      int
		allowed   bool
		remaining *int
	}{
		{"free with room", models.PlanFree, 10, true, intPtr(40)},
		{"free exhausted", models.PlanFree, 50, false, intPtr(0)},
		{"free overdrawn", models.PlanFree, 55, false, intPtr(0)},
		{"pro", models.PlanPro, 1999, true, intPtr(1)},
		{"unlimited", models.PlanUnlimited, 1_000_000, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ledger, id := newTestService(tt.plan, tt.used)
			a, err := svc.CheckAllowance(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, a.Allowed)
			assert.Equal(t, tt.remaining, a.Remaining)
			if !tt.allowed {
				assert.Contains(t, a.Reason, tt.plan)
			}
			if tt.remaining != nil {
				assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), ledger.since)
			}
		})
	}
}

func TestService_CheckAllowanceErrors(t *testing.T) {
	svc, ledger, id := newTestService(models.PlanFree, 0)
	ledger.err = errors.New("db down")
	_, err := svc.CheckAllowance(context.Background(), id)
	assert.Error(t, err)

	_, err = svc.CheckAllowance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestService_RecordUsage(t *testing.T) {
	svc, ledger, id := newTestService(models.PlanFree, 0)
	require.NoError(t, svc.RecordUsage(context.Background(), id, 1))
	assert.Equal(t, 1, ledger.recorded)
	assert.ErrorIs(t, svc.RecordUsage(context.Background(), id, 0), ErrInvalidPoints)
}

func TestPeriodStart(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 1 Aug 01:00 at +3 is still July in UTC
	got := PeriodStart(time.Date(2026, 8, 1, 1, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), got)
}

func intPtr(v int) *int { return &v }
