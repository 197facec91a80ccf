package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

// SubscriptionRepository is the subscription lifecycle store. All state
// transitions are atomic conditional updates; completion can be raced by the
// browser success redirect, the fail/cancel redirect and the IPN webhook for
// the same transaction id, and exactly one caller may win.
type SubscriptionRepository interface {
	// Create inserts a new record; the caller supplies the plan snapshot.
	Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error)

	// GetByTransactionID returns the record for a merchant transaction id.
	GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error)

	// GetActiveByUserID returns the user's current active subscription: the
	// most recent by end date among completed, active, unexpired records.
	GetActiveByUserID(ctx context.Context, userID string, now time.Time) (domain.Subscription, error)

	// ListByUserID returns the user's full history, most recent first.
	ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error)

	// CompletePending transitions a PENDING record to COMPLETED, computing the
	// period from the plan snapshot. Idempotent: an already-completed record is
	// returned unchanged with transitioned=false. Completing a FAILED record is
	// an illegal transition and returns domain.ErrInvalidOperation.
	CompletePending(ctx context.Context, transactionID string, meta domain.GatewayPaymentMeta, completedAt time.Time) (domain.Subscription, bool, error)

	// FailPending transitions a PENDING record to FAILED with a reason.
	// Records already in a terminal state are returned unchanged with
	// transitioned=false.
	FailPending(ctx context.Context, transactionID string, reason string) (domain.Subscription, bool, error)

	// DeactivateOthers flips is_active off on the user's other still-active
	// records when a new subscription activates.
	DeactivateOthers(ctx context.Context, userID string, keep uuid.UUID) (int64, error)

	// ExpireOverdue deactivates active subscriptions whose end date has
	// passed; returns the number of records changed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// InMemorySubscriptionRepository is the in-memory lifecycle store
type InMemorySubscriptionRepository struct {
	subscriptions map[string]domain.Subscription // keyed by transaction id
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository creates a new in-memory lifecycle store
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[string]domain.Subscription),
		log:           log,
	}
}

// Create inserts a new subscription record
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tranID := subscription.PaymentInfo.TransactionID
	if tranID == "" {
		return domain.Subscription{}, ErrInvalidData
	}
	if _, exists := r.subscriptions[tranID]; exists {
		return domain.Subscription{}, ErrDuplicate
	}

	now := time.Now()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}
	subscription.UpdatedAt = subscription.CreatedAt

	r.subscriptions[tranID] = subscription
	return subscription, nil
}

// GetByTransactionID returns the record for a transaction id
func (r *InMemorySubscriptionRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	subscription, exists := r.subscriptions[transactionID]
	if !exists {
		return domain.Subscription{}, ErrNotFound
	}
	return subscription, nil
}

// GetActiveByUserID returns the user's current active subscription
func (r *InMemorySubscriptionRepository) GetActiveByUserID(ctx context.Context, userID string, now time.Time) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var best domain.Subscription
	found := false
	for _, subscription := range r.subscriptions {
		if subscription.UserID != userID || !subscription.ActiveAt(now) {
			continue
		}
		if !found || subscription.EndDate.After(*best.EndDate) {
			best = subscription
			found = true
		}
	}

	if !found {
		return domain.Subscription{}, ErrNotFound
	}
	return best, nil
}

// ListByUserID returns the user's full history, most recent first
func (r *InMemorySubscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	subscriptions := make([]domain.Subscription, 0)
	for _, subscription := range r.subscriptions {
		if subscription.UserID == userID {
			subscriptions = append(subscriptions, subscription)
		}
	}

	sort.Slice(subscriptions, func(i, j int) bool {
		return subscriptions[i].CreatedAt.After(subscriptions[j].CreatedAt)
	})

	return subscriptions, nil
}

// CompletePending transitions a pending record to completed
func (r *InMemorySubscriptionRepository) CompletePending(ctx context.Context, transactionID string, meta domain.GatewayPaymentMeta, completedAt time.Time) (domain.Subscription, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	subscription, exists := r.subscriptions[transactionID]
	if !exists {
		return domain.Subscription{}, false, ErrNotFound
	}

	switch subscription.PaymentInfo.PaymentStatus {
	case domain.PaymentStatusCompleted:
		// Already completed: idempotent no-op, no mutation.
		return subscription, false, nil
	case domain.PaymentStatusFailed:
		r.log.Warnw("Refusing to complete failed transaction", "transactionID", transactionID)
		return subscription, false, domain.ErrInvalidOperation
	}

	endDate := domain.PeriodEnd(completedAt, subscription.PlanSnapshot.DurationMonths)

	subscription.PaymentInfo.PaymentStatus = domain.PaymentStatusCompleted
	subscription.PaymentInfo.ValID = meta.ValID
	subscription.PaymentInfo.CardType = meta.CardType
	subscription.PaymentInfo.CardBrand = meta.CardBrand
	subscription.PaymentInfo.CardIssuer = meta.CardIssuer
	subscription.PaymentInfo.StoreAmount = meta.StoreAmount
	subscription.PaymentInfo.BankTranID = meta.BankTranID
	if meta.Amount > 0 {
		subscription.PaymentInfo.AmountPaid = meta.Amount
	}
	if meta.PaymentDate != nil {
		subscription.PaymentInfo.PaymentDate = meta.PaymentDate
	} else {
		paidAt := completedAt
		subscription.PaymentInfo.PaymentDate = &paidAt
	}
	subscription.StartDate = &completedAt
	subscription.EndDate = &endDate
	subscription.IsActive = true
	subscription.UpdatedAt = completedAt

	r.subscriptions[transactionID] = subscription
	return subscription, true, nil
}

// FailPending transitions a pending record to failed
func (r *InMemorySubscriptionRepository) FailPending(ctx context.Context, transactionID string, reason string) (domain.Subscription, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	subscription, exists := r.subscriptions[transactionID]
	if !exists {
		return domain.Subscription{}, false, ErrNotFound
	}

	if subscription.PaymentInfo.PaymentStatus.Terminal() {
		// Terminal records are immutable; duplicate fail/cancel signals no-op.
		return subscription, false, nil
	}

	subscription.PaymentInfo.PaymentStatus = domain.PaymentStatusFailed
	subscription.PaymentInfo.ErrorMessage = reason
	subscription.IsActive = false
	subscription.UpdatedAt = time.Now()

	r.subscriptions[transactionID] = subscription
	return subscription, true, nil
}

// DeactivateOthers flips is_active off on the user's other active records
func (r *InMemorySubscriptionRepository) DeactivateOthers(ctx context.Context, userID string, keep uuid.UUID) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	var changed int64
	for tranID, subscription := range r.subscriptions {
		if subscription.UserID != userID || subscription.ID == keep || !subscription.IsActive {
			continue
		}
		subscription.IsActive = false
		subscription.CancelledAt = &now
		subscription.CancellationReason = "New subscription activated"
		subscription.UpdatedAt = now
		r.subscriptions[tranID] = subscription
		changed++
	}

	return changed, nil
}

// ExpireOverdue deactivates active subscriptions past their end date
func (r *InMemorySubscriptionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var changed int64
	for tranID, subscription := range r.subscriptions {
		if !subscription.IsActive || subscription.EndDate == nil || subscription.EndDate.After(now) {
			continue
		}
		subscription.IsActive = false
		subscription.CancelledAt = &now
		subscription.CancellationReason = "Subscription expired"
		subscription.UpdatedAt = now
		r.subscriptions[tranID] = subscription
		changed++
	}

	return changed, nil
}
