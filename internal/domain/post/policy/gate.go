package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// PostCounter counts posts created by a user
type PostCounter interface {
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// MonthlyLimitGate caps the posts a user may create per calendar month (UTC).
// A limit of zero means unlimited.
type MonthlyLimitGate struct {
	counter PostCounter
	limit   int
	now     func() time.Time
}

// NewMonthlyLimitGate creates a new monthly plan gate
func NewMonthlyLimitGate(counter PostCounter, limit int) *MonthlyLimitGate {
	return &MonthlyLimitGate{counter: counter, limit: limit, now: time.Now}
}

// Allow returns entity.ErrPlanLimitReached once the monthly quota is used up
func (g *MonthlyLimitGate) Allow(ctx context.Context, userID string) error {
	if g.limit <= 0 {
		return nil
	}

	now := g.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	count, err := g.counter.CountCreatedSince(ctx, userID, monthStart)
	if err != nil {
		return fmt.Errorf("counting posts: %w", err)
	}
	if count >= int64(g.limit) {
		return entity.ErrPlanLimitReached
	}

	return nil
}
