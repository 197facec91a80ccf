package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of a payment attempt
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether the status can never transition again.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// PlanSnapshot is an immutable copy of the plan terms taken at purchase time.
// Historical invoices read from the snapshot, never from the live catalog.
type PlanSnapshot struct {
	PlanID         string  `json:"plan_id"`
	Name           string  `json:"name"`
	DurationMonths int     `json:"duration_months"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
}

// PaymentInfo holds the gateway-facing payment state of a subscription
type PaymentInfo struct {
	Gateway       string        `json:"gateway"`
	TransactionID string        `json:"transaction_id"`
	AmountPaid    float64       `json:"amount_paid"`
	Currency      string        `json:"currency"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ValID         string        `json:"val_id,omitempty"`
	CardType      string        `json:"card_type,omitempty"`
	CardBrand     string        `json:"card_brand,omitempty"`
	CardIssuer    string        `json:"card_issuer,omitempty"`
	StoreAmount   float64       `json:"store_amount,omitempty"`
	BankTranID    string        `json:"bank_tran_id,omitempty"`
	PaymentDate   *time.Time    `json:"payment_date,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// Subscription represents one payment attempt. A user accumulates many
// historical records; at most one counts as the current active subscription.
type Subscription struct {
	ID                 uuid.UUID    `json:"id"`
	UserID             string       `json:"user_id"`
	PlanSnapshot       PlanSnapshot `json:"plan_snapshot"`
	PaymentInfo        PaymentInfo  `json:"payment_info"`
	StartDate          *time.Time   `json:"start_date,omitempty"`
	EndDate            *time.Time   `json:"end_date,omitempty"`
	IsActive           bool         `json:"is_active"`
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
	CancellationReason string       `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ActiveAt reports whether the subscription grants access at the given time
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s.PaymentInfo.PaymentStatus == PaymentStatusCompleted &&
		s.IsActive &&
		s.EndDate != nil &&
		s.EndDate.After(now)
}

// GatewayPaymentMeta is the validated payment metadata persisted on completion.
// The values come from the gateway's server-side validation response, never
// from browser-supplied redirect parameters.
type GatewayPaymentMeta struct {
	ValID       string
	Amount      float64
	CardType    string
	CardBrand   string
	CardIssuer  string
	StoreAmount float64
	BankTranID  string
	PaymentDate *time.Time
}

// PeriodEnd computes the subscription end date from the snapshot duration
func PeriodEnd(start time.Time, durationMonths int) time.Time {
	if durationMonths <= 0 {
		durationMonths = 1
	}
	return start.AddDate(0, durationMonths, 0)
}

// SubscriptionStatus is the status payload returned to an authenticated user
type SubscriptionStatus struct {
	HasActiveSubscription bool                `json:"has_active_subscription"`
	Subscription          *SubscriptionDetail `json:"subscription,omitempty"`
}

// SubscriptionDetail is the user-facing view of an active subscription
type SubscriptionDetail struct {
	ID            string        `json:"id"`
	Plan          string        `json:"plan"`
	PlanName      string        `json:"plan_name"`
	StartDate     *time.Time    `json:"start_date"`
	EndDate       *time.Time    `json:"end_date"`
	IsActive      bool          `json:"is_active"`
	DaysRemaining int           `json:"days_remaining"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Amount        float64       `json:"amount"`
}

// HistoryEntry is the invoice-history view of a subscription record
type HistoryEntry struct {
	ID             string        `json:"id"`
	Plan           string        `json:"plan"`
	PlanName       string        `json:"plan_name"`
	DurationMonths int           `json:"duration_months"`
	StartDate      *time.Time    `json:"start_date"`
	EndDate        *time.Time    `json:"end_date"`
	Amount         float64       `json:"amount"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	IsActive       bool          `json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DaysRemaining counts whole days from now until the end date, rounded up
func DaysRemaining(end time.Time, now time.Time) int {
	diff := end.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}
