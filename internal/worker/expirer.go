package worker

import (
	"context"
	"time"

	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/pkg/logger"
)

const defaultCheckInterval = 1 * time.Hour

// Expirer periodically deactivates subscriptions past their end date. The
// active-subscription query already excludes overdue records, so the worker
// only keeps the stored is_active flags honest.
type Expirer struct {
	repo     repository.SubscriptionRepository
	interval time.Duration
	log      *logger.Logger
}

// NewExpirer creates the background expirer. A non-positive interval falls
// back to the hourly default.
func NewExpirer(repo repository.SubscriptionRepository, interval time.Duration, log *logger.Logger) *Expirer {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Expirer{
		repo:     repo,
		interval: interval,
		log:      log,
	}
}

// Start runs the expiry loop until the context is cancelled
func (e *Expirer) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.log.Infow("Subscription expirer started", "interval", e.interval.String())

	// Run once at start
	e.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Subscription expirer stopped")
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

func (e *Expirer) runOnce(ctx context.Context) {
	expired, err := e.repo.ExpireOverdue(ctx, time.Now())
	if err != nil {
		e.log.Errorw("Failed to expire overdue subscriptions", "error", err)
		return
	}
	if expired > 0 {
		e.log.Infow("Expired overdue subscriptions", "count", expired)
	}
}
