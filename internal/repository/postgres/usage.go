package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
)

// UsageRepository implements repository.UsageRepository over the usage_ledger table
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new usage ledger repository
func NewUsageRepository(db *sqlx.DB) repository.UsageRepository {
	return &UsageRepository{db: db}
}

// Record appends one ledger entry
func (r *UsageRepository) Record(ctx context.Context, userID uuid.UUID, points int) error {
	query := `INSERT INTO usage_ledger (user_id, points, created_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, userID, points, time.Now().UTC())
	return err
}

// SumSince totals the points recorded since the given instant
func (r *UsageRepository) SumSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(points), 0) FROM usage_ledger WHERE user_id = $1 AND created_at >= $2`
	if err := r.db.GetContext(ctx, &total, query, userID, since); err != nil {
		return 0, err
	}
	return total, nil
}
