package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

const subscriptionColumns = `
	id, user_id,
	plan_id, plan_name, plan_duration_months, plan_price, plan_currency,
	gateway, transaction_id, amount_paid, currency, payment_status,
	val_id, card_type, card_brand, card_issuer, store_amount, bank_tran_id, payment_date,
	error_message, start_date, end_date, is_active,
	cancelled_at, cancellation_reason, created_at, updated_at`

// PostgresSubscriptionRepository is the PostgreSQL lifecycle store. All state
// transitions are single-statement conditional updates guarded on
// payment_status = 'pending', so concurrent callers cannot lose updates.
type PostgresSubscriptionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresSubscriptionRepository creates a new PostgreSQL lifecycle store
func NewPostgresSubscriptionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db:  db,
		log: log,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var s domain.Subscription
	var status string

	err := row.Scan(
		&s.ID, &s.UserID,
		&s.PlanSnapshot.PlanID, &s.PlanSnapshot.Name, &s.PlanSnapshot.DurationMonths,
		&s.PlanSnapshot.Price, &s.PlanSnapshot.Currency,
		&s.PaymentInfo.Gateway, &s.PaymentInfo.TransactionID, &s.PaymentInfo.AmountPaid,
		&s.PaymentInfo.Currency, &status,
		&s.PaymentInfo.ValID, &s.PaymentInfo.CardType, &s.PaymentInfo.CardBrand,
		&s.PaymentInfo.CardIssuer, &s.PaymentInfo.StoreAmount, &s.PaymentInfo.BankTranID,
		&s.PaymentInfo.PaymentDate,
		&s.PaymentInfo.ErrorMessage, &s.StartDate, &s.EndDate, &s.IsActive,
		&s.CancelledAt, &s.CancellationReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Subscription{}, err
	}

	s.PaymentInfo.PaymentStatus = domain.PaymentStatus(status)
	return s, nil
}

// Create inserts a new subscription record
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			id, user_id,
			plan_id, plan_name, plan_duration_months, plan_price, plan_currency,
			gateway, transaction_id, amount_paid, currency, payment_status,
			is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14
		)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRow(
		ctx,
		query,
		subscription.ID,
		subscription.UserID,
		subscription.PlanSnapshot.PlanID,
		subscription.PlanSnapshot.Name,
		subscription.PlanSnapshot.DurationMonths,
		subscription.PlanSnapshot.Price,
		subscription.PlanSnapshot.Currency,
		subscription.PaymentInfo.Gateway,
		subscription.PaymentInfo.TransactionID,
		subscription.PaymentInfo.AmountPaid,
		subscription.PaymentInfo.Currency,
		string(subscription.PaymentInfo.PaymentStatus),
		subscription.IsActive,
		now,
	).Scan(&subscription.CreatedAt, &subscription.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Unique violation on transaction_id
			return domain.Subscription{}, ErrDuplicate
		}
		return domain.Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}

	return subscription, nil
}

// GetByTransactionID returns the record for a transaction id
func (r *PostgresSubscriptionRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE transaction_id = $1`

	subscription, err := scanSubscription(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}

	return subscription, nil
}

// GetActiveByUserID returns the user's current active subscription
func (r *PostgresSubscriptionRepository) GetActiveByUserID(ctx context.Context, userID string, now time.Time) (domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		  AND payment_status = 'completed'
		  AND is_active = TRUE
		  AND end_date > $2
		ORDER BY end_date DESC
		LIMIT 1
	`

	subscription, err := scanSubscription(r.db.QueryRow(ctx, query, userID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get active subscription: %w", err)
	}

	return subscription, nil
}

// ListByUserID returns the user's full history, most recent first
func (r *PostgresSubscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subscriptions []domain.Subscription
	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subscriptions = append(subscriptions, subscription)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subscriptions, nil
}

// CompletePending transitions a pending record to completed. The period is
// computed from the immutable plan snapshot, so reading the duration before
// the conditional write does not widen the race window.
func (r *PostgresSubscriptionRepository) CompletePending(ctx context.Context, transactionID string, meta domain.GatewayPaymentMeta, completedAt time.Time) (domain.Subscription, bool, error) {
	var durationMonths int
	err := r.db.QueryRow(ctx,
		`SELECT plan_duration_months FROM subscriptions WHERE transaction_id = $1`,
		transactionID,
	).Scan(&durationMonths)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, false, ErrNotFound
		}
		return domain.Subscription{}, false, fmt.Errorf("failed to load plan snapshot: %w", err)
	}

	endDate := domain.PeriodEnd(completedAt, durationMonths)
	paymentDate := meta.PaymentDate
	if paymentDate == nil {
		paymentDate = &completedAt
	}

	query := `
		UPDATE subscriptions
		SET payment_status = 'completed',
			val_id = $2,
			card_type = $3,
			card_brand = $4,
			card_issuer = $5,
			store_amount = $6,
			bank_tran_id = $7,
			payment_date = $8,
			amount_paid = CASE WHEN $9 > 0 THEN $9 ELSE amount_paid END,
			start_date = $10,
			end_date = $11,
			is_active = TRUE,
			updated_at = $10
		WHERE transaction_id = $1 AND payment_status = 'pending'
		RETURNING ` + subscriptionColumns

	subscription, err := scanSubscription(r.db.QueryRow(
		ctx,
		query,
		transactionID,
		meta.ValID,
		meta.CardType,
		meta.CardBrand,
		meta.CardIssuer,
		meta.StoreAmount,
		meta.BankTranID,
		paymentDate,
		meta.Amount,
		completedAt,
		endDate,
	))
	if err == nil {
		return subscription, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, false, fmt.Errorf("failed to complete subscription: %w", err)
	}

	// The conditional update matched nothing: another caller got there first.
	current, getErr := r.GetByTransactionID(ctx, transactionID)
	if getErr != nil {
		return domain.Subscription{}, false, getErr
	}

	switch current.PaymentInfo.PaymentStatus {
	case domain.PaymentStatusCompleted:
		return current, false, nil
	case domain.PaymentStatusFailed:
		r.log.Warnw("Refusing to complete failed transaction", "transactionID", transactionID)
		return current, false, domain.ErrInvalidOperation
	default:
		return domain.Subscription{}, false, fmt.Errorf("subscription %s in unexpected state %s", transactionID, current.PaymentInfo.PaymentStatus)
	}
}

// FailPending transitions a pending record to failed
func (r *PostgresSubscriptionRepository) FailPending(ctx context.Context, transactionID string, reason string) (domain.Subscription, bool, error) {
	query := `
		UPDATE subscriptions
		SET payment_status = 'failed',
			error_message = $2,
			is_active = FALSE,
			updated_at = $3
		WHERE transaction_id = $1 AND payment_status = 'pending'
		RETURNING ` + subscriptionColumns

	subscription, err := scanSubscription(r.db.QueryRow(ctx, query, transactionID, reason, time.Now()))
	if err == nil {
		return subscription, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, false, fmt.Errorf("failed to mark subscription failed: %w", err)
	}

	// Terminal records no-op; unknown transaction ids surface ErrNotFound.
	current, getErr := r.GetByTransactionID(ctx, transactionID)
	if getErr != nil {
		return domain.Subscription{}, false, getErr
	}
	return current, false, nil
}

// DeactivateOthers flips is_active off on the user's other active records
func (r *PostgresSubscriptionRepository) DeactivateOthers(ctx context.Context, userID string, keep uuid.UUID) (int64, error) {
	query := `
		UPDATE subscriptions
		SET is_active = FALSE,
			cancelled_at = $3,
			cancellation_reason = 'New subscription activated',
			updated_at = $3
		WHERE user_id = $1 AND id <> $2 AND is_active = TRUE
	`

	result, err := r.db.Exec(ctx, query, userID, keep, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}

	return result.RowsAffected(), nil
}

// ExpireOverdue deactivates active subscriptions past their end date
func (r *PostgresSubscriptionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET is_active = FALSE,
			cancelled_at = $1,
			cancellation_reason = 'Subscription expired',
			updated_at = $1
		WHERE is_active = TRUE AND end_date < $1
	`

	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}

	return result.RowsAffected(), nil
}
