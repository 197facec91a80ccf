package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

const (
	activeSubscriptionKeyPrefix  = "active_subscription:"
	subscriptionHistoryKeyPrefix = "subscription_history:"

	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository caches per-user subscription reads in Redis. Cache
// failures are reported to callers but never treated as fatal by the
// decorator that wraps it.
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository connects to Redis and verifies the connection
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close closes the Redis connection
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheActiveSubscription stores the user's current active subscription
func (r *RedisCacheRepository) CacheActiveSubscription(ctx context.Context, sub domain.Subscription) error {
	key := fmt.Sprintf("%s%s", activeSubscriptionKeyPrefix, sub.UserID)

	data, err := json.Marshal(sub)
	if err != nil {
		r.log.Errorw("Failed to marshal subscription for caching", "error", err, "userID", sub.UserID)
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	// Never cache past the subscription's own end date.
	ttl := defaultCacheTTL
	if sub.EndDate != nil {
		if remaining := time.Until(*sub.EndDate); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.log.Errorw("Failed to cache active subscription", "error", err, "userID", sub.UserID)
		return fmt.Errorf("failed to cache active subscription: %w", err)
	}

	r.log.Debugw("Active subscription cached", "userID", sub.UserID, "transactionID", sub.PaymentInfo.TransactionID)
	return nil
}

// GetCachedActiveSubscription returns the cached active subscription, or nil on a miss
func (r *RedisCacheRepository) GetCachedActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	key := fmt.Sprintf("%s%s", activeSubscriptionKeyPrefix, userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("Active subscription not found in cache", "userID", userID)
			return nil, nil
		}
		r.log.Errorw("Error getting active subscription from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get active subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscription", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	r.log.Debugw("Active subscription retrieved from cache", "userID", userID)
	return &sub, nil
}

// CacheSubscriptionHistory stores the user's subscription history
func (r *RedisCacheRepository) CacheSubscriptionHistory(ctx context.Context, userID string, subs []domain.Subscription) error {
	key := fmt.Sprintf("%s%s", subscriptionHistoryKeyPrefix, userID)

	data, err := json.Marshal(subs)
	if err != nil {
		r.log.Errorw("Failed to marshal subscription history for caching", "error", err, "userID", userID)
		return fmt.Errorf("failed to marshal subscription history: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription history", "error", err, "userID", userID)
		return fmt.Errorf("failed to cache subscription history: %w", err)
	}

	r.log.Debugw("Subscription history cached", "userID", userID, "count", len(subs))
	return nil
}

// GetCachedSubscriptionHistory returns the cached history, or nil on a miss
func (r *RedisCacheRepository) GetCachedSubscriptionHistory(ctx context.Context, userID string) ([]domain.Subscription, error) {
	key := fmt.Sprintf("%s%s", subscriptionHistoryKeyPrefix, userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("Subscription history not found in cache", "userID", userID)
			return nil, nil
		}
		r.log.Errorw("Error getting subscription history from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get subscription history from cache: %w", err)
	}

	var subs []domain.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscription history", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached subscription history: %w", err)
	}

	r.log.Debugw("Subscription history retrieved from cache", "userID", userID, "count", len(subs))
	return subs, nil
}

// InvalidateUser drops every cached entry for the user
func (r *RedisCacheRepository) InvalidateUser(ctx context.Context, userID string) error {
	keys := []string{
		fmt.Sprintf("%s%s", activeSubscriptionKeyPrefix, userID),
		fmt.Sprintf("%s%s", subscriptionHistoryKeyPrefix, userID),
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Errorw("Failed to invalidate subscription cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate subscription cache: %w", err)
	}

	r.log.Debugw("Subscription cache invalidated", "userID", userID)
	return nil
}
