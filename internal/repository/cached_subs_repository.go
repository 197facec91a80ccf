package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

// CachedSubscriptionRepository decorates a SubscriptionRepository with Redis
// caching for the hot per-user reads. Every state transition passes through
// to the underlying store and invalidates the affected user's cache; cache
// errors are logged and swallowed so Redis outages degrade to plain reads.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository wraps repo with the Redis cache
func NewCachedSubscriptionRepository(
	repo SubscriptionRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// Create stores the record and invalidates the user's history cache
func (r *CachedSubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	created, err := r.repo.Create(ctx, subscription)
	if err != nil {
		return domain.Subscription{}, err
	}

	if err := r.cache.InvalidateUser(ctx, created.UserID); err != nil {
		r.log.Warnw("Failed to invalidate cache after create", "error", err, "userID", created.UserID)
	}

	return created, nil
}

// GetByTransactionID is not cached: transaction lookups sit on the payment
// callback path where a stale read could mask a transition.
func (r *CachedSubscriptionRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error) {
	return r.repo.GetByTransactionID(ctx, transactionID)
}

// GetActiveByUserID checks the cache before hitting the store
func (r *CachedSubscriptionRepository) GetActiveByUserID(ctx context.Context, userID string, now time.Time) (domain.Subscription, error) {
	cached, err := r.cache.GetCachedActiveSubscription(ctx, userID)
	if err != nil {
		r.log.Warnw("Error reading active subscription from cache", "error", err, "userID", userID)
	}
	if cached != nil && cached.ActiveAt(now) {
		r.log.Debugw("Active subscription served from cache", "userID", userID)
		return *cached, nil
	}

	subscription, err := r.repo.GetActiveByUserID(ctx, userID, now)
	if err != nil {
		return domain.Subscription{}, err
	}

	if err := r.cache.CacheActiveSubscription(ctx, subscription); err != nil {
		r.log.Warnw("Failed to cache active subscription", "error", err, "userID", userID)
	}

	return subscription, nil
}

// ListByUserID checks the cache before hitting the store
func (r *CachedSubscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	cached, err := r.cache.GetCachedSubscriptionHistory(ctx, userID)
	if err != nil {
		r.log.Warnw("Error reading subscription history from cache", "error", err, "userID", userID)
	}
	if cached != nil {
		r.log.Debugw("Subscription history served from cache", "userID", userID, "count", len(cached))
		return cached, nil
	}

	subscriptions, err := r.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(subscriptions) > 0 {
		if err := r.cache.CacheSubscriptionHistory(ctx, userID, subscriptions); err != nil {
			r.log.Warnw("Failed to cache subscription history", "error", err, "userID", userID)
		}
	}

	return subscriptions, nil
}

// CompletePending transitions the record and invalidates the user's cache
func (r *CachedSubscriptionRepository) CompletePending(ctx context.Context, transactionID string, meta domain.GatewayPaymentMeta, completedAt time.Time) (domain.Subscription, bool, error) {
	subscription, transitioned, err := r.repo.CompletePending(ctx, transactionID, meta, completedAt)
	if err != nil {
		return subscription, transitioned, err
	}

	if transitioned {
		if cacheErr := r.cache.InvalidateUser(ctx, subscription.UserID); cacheErr != nil {
			r.log.Warnw("Failed to invalidate cache after completion", "error", cacheErr, "userID", subscription.UserID)
		}
	}

	return subscription, transitioned, nil
}

// FailPending transitions the record and invalidates the user's cache
func (r *CachedSubscriptionRepository) FailPending(ctx context.Context, transactionID string, reason string) (domain.Subscription, bool, error) {
	subscription, transitioned, err := r.repo.FailPending(ctx, transactionID, reason)
	if err != nil {
		return subscription, transitioned, err
	}

	if transitioned {
		if cacheErr := r.cache.InvalidateUser(ctx, subscription.UserID); cacheErr != nil {
			r.log.Warnw("Failed to invalidate cache after failure", "error", cacheErr, "userID", subscription.UserID)
		}
	}

	return subscription, transitioned, nil
}

// DeactivateOthers passes through and invalidates the user's cache
func (r *CachedSubscriptionRepository) DeactivateOthers(ctx context.Context, userID string, keep uuid.UUID) (int64, error) {
	deactivated, err := r.repo.DeactivateOthers(ctx, userID, keep)
	if err != nil {
		return deactivated, err
	}

	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate cache after deactivation", "error", err, "userID", userID)
	}

	return deactivated, nil
}

// ExpireOverdue passes through. The affected users are unknown here; the
// active-subscription cache TTL is capped at the end date, so expired
// entries age out on their own.
func (r *CachedSubscriptionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	return r.repo.ExpireOverdue(ctx, now)
}
