package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/internal/gateway/sslcommerz"
	"github.com/briefly60/payment-service/internal/kafka"
	"github.com/briefly60/payment-service/internal/metrics"
	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/pkg/logger"
)

const gatewayName = "sslcommerz"

// amountTolerance absorbs the gateway's rounding of amounts it echoes back
const amountTolerance = 0.01

// CallbackURLs are the server-side redirect and IPN endpoints handed to the
// gateway when a checkout session opens.
type CallbackURLs struct {
	SuccessURL string
	FailURL    string
	CancelURL  string
	IPNURL     string
}

// InitiatePaymentRequest carries the data needed to open a checkout session
type InitiatePaymentRequest struct {
	UserID        string
	PlanID        string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// InitiatePaymentResult is returned to the frontend to redirect the user
type InitiatePaymentResult struct {
	GatewayURL    string  `json:"gateway_url"`
	SessionKey    string  `json:"session_key"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// IPNRequest is the server-to-server notification payload from the gateway
type IPNRequest struct {
	TranID string
	ValID  string
	Status string
	Amount string
}

// SubscriptionService orchestrates the payment lifecycle end to end
type SubscriptionService interface {
	// InitiatePayment opens a checkout session for the given user and plan.
	InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResult, error)

	// HandleSuccess processes the gateway's success redirect. The payment is
	// validated server-side before anything transitions; redirect parameters
	// are never trusted on their own.
	HandleSuccess(ctx context.Context, transactionID, valID string) (domain.Subscription, error)

	// HandleFailure marks a pending payment failed. A no-op on terminal records.
	HandleFailure(ctx context.Context, transactionID, reason string) error

	// HandleCancel marks a pending payment as cancelled by the user.
	HandleCancel(ctx context.Context, transactionID string) error

	// HandleIPN processes the gateway's server-to-server notification. It
	// returns a short acknowledgement message on success.
	HandleIPN(ctx context.Context, req IPNRequest) (string, error)

	// GetStatus reports whether the user holds an active subscription.
	GetStatus(ctx context.Context, userID string) (domain.SubscriptionStatus, error)

	// GetHistory lists the user's payment history, most recent first.
	GetHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error)

	// RefundPayment initiates a gateway refund for a completed payment.
	RefundPayment(ctx context.Context, transactionID, remarks string) (*sslcommerz.RefundResponse, error)
}

type subscriptionService struct {
	repo      repository.SubscriptionRepository
	plans     PlanService
	gateway   sslcommerz.Client
	events    kafka.Producer
	metrics   *metrics.PaymentMetrics
	callbacks CallbackURLs
	log       *logger.Logger
}

// NewSubscriptionService wires the orchestration service. The gateway client
// is injected so tests can substitute a fake; events may be nil when Kafka is
// not configured.
func NewSubscriptionService(
	repo repository.SubscriptionRepository,
	plans PlanService,
	gateway sslcommerz.Client,
	events kafka.Producer,
	paymentMetrics *metrics.PaymentMetrics,
	callbacks CallbackURLs,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionService{
		repo:      repo,
		plans:     plans,
		gateway:   gateway,
		events:    events,
		metrics:   paymentMetrics,
		callbacks: callbacks,
		log:       log,
	}
}

// InitiatePayment opens a gateway checkout session and records the attempt
// as a pending subscription.
func (s *subscriptionService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	s.log.Debugw("Initiating payment", "userID", req.UserID, "planID", req.PlanID)

	if req.UserID == "" {
		return nil, repository.ErrInvalidData
	}

	plan, err := s.plans.GetPlanByID(req.PlanID)
	if err != nil {
		return nil, err
	}

	// One active subscription per user. Checked before anything is created
	// so a rejected init leaves no pending record behind.
	now := time.Now()
	if _, err := s.repo.GetActiveByUserID(ctx, req.UserID, now); err == nil {
		s.log.Warnw("User already has an active subscription", "userID", req.UserID)
		return nil, domain.ErrActiveSubscriptionExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.log.Errorw("Failed to check active subscription", "error", err, "userID", req.UserID)
		return nil, err
	}

	transactionID := sslcommerz.GenerateTransactionID(req.UserID)

	subscription := domain.Subscription{
		ID:           uuid.New(),
		UserID:       req.UserID,
		PlanSnapshot: plan.Snapshot(),
		PaymentInfo: domain.PaymentInfo{
			Gateway:       gatewayName,
			TransactionID: transactionID,
			AmountPaid:    plan.Price,
			Currency:      plan.Currency,
			PaymentStatus: domain.PaymentStatusPending,
		},
	}

	if _, err := s.repo.Create(ctx, subscription); err != nil {
		s.log.Errorw("Failed to create pending subscription", "error", err, "userID", req.UserID, "transactionID", transactionID)
		return nil, err
	}

	fields := sslcommerz.PaymentFields{
		TotalAmount:     plan.Price,
		Currency:        plan.Currency,
		TranID:          transactionID,
		SuccessURL:      s.callbacks.SuccessURL,
		FailURL:         s.callbacks.FailURL,
		CancelURL:       s.callbacks.CancelURL,
		IPNURL:          s.callbacks.IPNURL,
		ProductName:     plan.Name,
		ProductCategory: "subscription",
		ProductProfile:  "non-physical-goods",
		CusName:         req.CustomerName,
		CusEmail:        req.CustomerEmail,
		CusPhone:        req.CustomerPhone,
	}
	passthrough := sslcommerz.Passthrough{
		UserID:         req.UserID,
		PlanID:         plan.PlanID,
		DurationMonths: plan.DurationMonths,
		IssuedAt:       now,
	}

	fields = fields.Sanitize()
	passthrough.Apply(&fields)

	session, err := s.gateway.InitiateSession(ctx, fields)
	if err != nil {
		s.log.Errorw("Gateway session initiation failed", "error", err, "transactionID", transactionID)
		s.metrics.RecordGatewayError("initiate")

		// The attempt is dead; mark the record failed so it cannot linger
		// as pending forever.
		reason := "Failed to initiate payment session"
		var gatewayErr *domain.GatewayError
		if errors.As(err, &gatewayErr) && gatewayErr.Reason != "" {
			reason = gatewayErr.Reason
		}
		if _, _, failErr := s.repo.FailPending(ctx, transactionID, reason); failErr != nil {
			s.log.Errorw("Failed to mark subscription failed after init error", "error", failErr, "transactionID", transactionID)
		}
		return nil, err
	}

	s.metrics.RecordInitiated(plan.PlanID)
	s.log.Infow("Payment session opened", "userID", req.UserID, "planID", plan.PlanID, "transactionID", transactionID)

	return &InitiatePaymentResult{
		GatewayURL:    session.GatewayURL,
		SessionKey:    session.SessionKey,
		TransactionID: transactionID,
		Amount:        plan.Price,
		Currency:      plan.Currency,
	}, nil
}

// HandleSuccess validates the payment with the gateway and completes the
// pending record. Safe to call repeatedly for the same transaction.
func (s *subscriptionService) HandleSuccess(ctx context.Context, transactionID, valID string) (domain.Subscription, error) {
	s.log.Debugw("Handling success callback", "transactionID", transactionID)

	if transactionID == "" || valID == "" {
		return domain.Subscription{}, repository.ErrInvalidData
	}

	subscription, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("Success callback for unknown transaction", "transactionID", transactionID)
		}
		return domain.Subscription{}, err
	}

	if subscription.PaymentInfo.PaymentStatus == domain.PaymentStatusCompleted {
		s.log.Infow("Transaction already completed", "transactionID", transactionID)
		return subscription, nil
	}
	if subscription.PaymentInfo.PaymentStatus == domain.PaymentStatusFailed {
		return domain.Subscription{}, domain.ErrInvalidOperation
	}

	validation, err := s.gateway.ValidatePayment(ctx, valID)
	if err != nil {
		s.metrics.RecordGatewayError("validate")
		if errors.Is(err, domain.ErrPaymentFailed) {
			// The gateway rejected the payment outright; the attempt is dead.
			if failErr := s.fail(ctx, transactionID, gatewayReason(err)); failErr != nil {
				s.log.Errorw("Failed to mark subscription failed after validation rejection", "error", failErr, "transactionID", transactionID)
			}
			return domain.Subscription{}, err
		}
		// Transport errors leave the record pending; the IPN retry or a
		// later redirect can still complete it.
		return domain.Subscription{}, err
	}

	if err := s.crossCheck(subscription, validation); err != nil {
		return domain.Subscription{}, err
	}

	return s.complete(ctx, transactionID, validation)
}

// HandleFailure marks a pending payment failed
func (s *subscriptionService) HandleFailure(ctx context.Context, transactionID, reason string) error {
	if transactionID == "" {
		return repository.ErrInvalidData
	}
	if reason == "" {
		reason = "Payment failed"
	}
	return s.fail(ctx, transactionID, reason)
}

// HandleCancel marks a pending payment as cancelled by the user
func (s *subscriptionService) HandleCancel(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return repository.ErrInvalidData
	}
	return s.fail(ctx, transactionID, "Payment cancelled by user")
}

func (s *subscriptionService) fail(ctx context.Context, transactionID, reason string) error {
	subscription, transitioned, err := s.repo.FailPending(ctx, transactionID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("Failure callback for unknown transaction", "transactionID", transactionID)
		}
		return err
	}

	if !transitioned {
		// Already terminal; nothing more to record.
		s.log.Debugw("Failure callback on terminal transaction", "transactionID", transactionID, "status", subscription.PaymentInfo.PaymentStatus)
		return nil
	}

	s.metrics.RecordFailed(subscription.PlanSnapshot.PlanID)
	s.log.Infow("Payment marked failed", "transactionID", transactionID, "reason", reason)

	if s.events != nil {
		if err := s.events.PublishPaymentFailed(ctx, subscription); err != nil {
			s.log.Warnw("Failed to publish payment failed event", "error", err, "transactionID", transactionID)
		}
	}

	return nil
}

// HandleIPN processes the gateway's instant payment notification. The IPN is
// the authoritative completion path: it validates the payment by val_id and
// independently verifies the transaction id before completing.
func (s *subscriptionService) HandleIPN(ctx context.Context, req IPNRequest) (string, error) {
	s.log.Debugw("Handling IPN", "transactionID", req.TranID, "status", req.Status)

	if req.Status != "VALID" && req.Status != "VALIDATED" {
		// The notification body is unauthenticated. A reported failure is
		// rejected without touching the record; only the gateway's own
		// validation API is grounds to transition state.
		s.log.Warnw("IPN with non-valid status", "transactionID", req.TranID, "status", req.Status)
		return "", domain.ErrPaymentFailed
	}
	if req.TranID == "" || req.ValID == "" {
		return "", repository.ErrInvalidData
	}

	subscription, err := s.repo.GetByTransactionID(ctx, req.TranID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("IPN for unknown transaction", "transactionID", req.TranID)
		}
		return "", err
	}

	if subscription.PaymentInfo.PaymentStatus == domain.PaymentStatusCompleted {
		s.log.Infow("IPN for already completed transaction", "transactionID", req.TranID)
		return "Already processed", nil
	}
	if subscription.PaymentInfo.PaymentStatus == domain.PaymentStatusFailed {
		return "", domain.ErrInvalidOperation
	}

	validation, err := s.gateway.ValidatePayment(ctx, req.ValID)
	if err != nil {
		s.metrics.RecordGatewayError("validate")
		if errors.Is(err, domain.ErrPaymentFailed) {
			if failErr := s.fail(ctx, req.TranID, gatewayReason(err)); failErr != nil {
				s.log.Errorw("Failed to mark subscription failed after validation rejection", "error", failErr, "transactionID", req.TranID)
			}
		}
		return "", err
	}
	if err := s.crossCheck(subscription, validation); err != nil {
		return "", err
	}

	// Independent lookup by merchant transaction id. A forged IPN carrying a
	// real val_id from some other payment fails here.
	verification, err := s.gateway.VerifyTransaction(ctx, req.TranID)
	if err != nil {
		s.metrics.RecordGatewayError("verify")
		return "", err
	}
	if verification.ValID != validation.ValID {
		s.log.Warnw("IPN verification mismatch", "transactionID", req.TranID, "valID", req.ValID, "verifiedValID", verification.ValID)
		return "", domain.ErrTransactionMismatch
	}

	if _, err := s.complete(ctx, req.TranID, validation); err != nil {
		return "", err
	}
	return "Payment processed", nil
}

// gatewayReason extracts the provider's own failure message when one was
// returned
func gatewayReason(err error) string {
	var gatewayErr *domain.GatewayError
	if errors.As(err, &gatewayErr) && gatewayErr.Reason != "" {
		return gatewayErr.Reason
	}
	return "Payment validation failed"
}

// crossCheck guards against tampered callbacks: the validated payment must
// reference the same transaction and carry the expected amount. A mismatch
// leaves the pending record untouched.
func (s *subscriptionService) crossCheck(subscription domain.Subscription, validation *sslcommerz.ValidationResponse) error {
	if validation.TranID != subscription.PaymentInfo.TransactionID {
		s.log.Warnw("Validated payment references a different transaction",
			"expected", subscription.PaymentInfo.TransactionID, "got", validation.TranID)
		return domain.ErrTransactionMismatch
	}

	meta := validation.PaymentMeta()
	if meta.Amount > 0 && math.Abs(meta.Amount-subscription.PaymentInfo.AmountPaid) > amountTolerance {
		s.log.Warnw("Validated amount does not match expected amount",
			"transactionID", subscription.PaymentInfo.TransactionID,
			"expected", subscription.PaymentInfo.AmountPaid, "got", meta.Amount)
		return domain.ErrTransactionMismatch
	}

	return nil
}

// complete performs the pending-to-completed transition and its side effects.
// Side effects run only when this caller actually made the transition, so
// concurrent success and IPN callbacks activate the subscription exactly once.
func (s *subscriptionService) complete(ctx context.Context, transactionID string, validation *sslcommerz.ValidationResponse) (domain.Subscription, error) {
	subscription, transitioned, err := s.repo.CompletePending(ctx, transactionID, validation.PaymentMeta(), time.Now())
	if err != nil {
		return domain.Subscription{}, err
	}
	if !transitioned {
		return subscription, nil
	}

	if deactivated, err := s.repo.DeactivateOthers(ctx, subscription.UserID, subscription.ID); err != nil {
		s.log.Errorw("Failed to deactivate previous subscriptions", "error", err, "userID", subscription.UserID)
	} else if deactivated > 0 {
		s.log.Infow("Deactivated previous subscriptions", "userID", subscription.UserID, "count", deactivated)
	}

	s.metrics.RecordCompleted(subscription.PlanSnapshot.PlanID, subscription.PaymentInfo.AmountPaid)
	s.log.Infow("Subscription activated",
		"userID", subscription.UserID,
		"planID", subscription.PlanSnapshot.PlanID,
		"transactionID", transactionID,
		"endDate", subscription.EndDate)

	if s.events != nil {
		if err := s.events.PublishSubscriptionActivated(ctx, subscription); err != nil {
			s.log.Warnw("Failed to publish activation event", "error", err, "transactionID", transactionID)
		}
	}

	return subscription, nil
}

// GetStatus reports the user's current subscription state
func (s *subscriptionService) GetStatus(ctx context.Context, userID string) (domain.SubscriptionStatus, error) {
	if userID == "" {
		return domain.SubscriptionStatus{}, repository.ErrInvalidData
	}

	now := time.Now()
	subscription, err := s.repo.GetActiveByUserID(ctx, userID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.SubscriptionStatus{HasActiveSubscription: false}, nil
		}
		return domain.SubscriptionStatus{}, err
	}

	detail := domain.SubscriptionDetail{
		ID:            subscription.ID.String(),
		Plan:          subscription.PlanSnapshot.PlanID,
		PlanName:      subscription.PlanSnapshot.Name,
		StartDate:     subscription.StartDate,
		EndDate:       subscription.EndDate,
		IsActive:      subscription.IsActive,
		PaymentStatus: subscription.PaymentInfo.PaymentStatus,
		Amount:        subscription.PaymentInfo.AmountPaid,
	}
	if subscription.EndDate != nil {
		detail.DaysRemaining = domain.DaysRemaining(*subscription.EndDate, now)
	}

	return domain.SubscriptionStatus{
		HasActiveSubscription: true,
		Subscription:          &detail,
	}, nil
}

// GetHistory lists the user's payment history
func (s *subscriptionService) GetHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	if userID == "" {
		return nil, repository.ErrInvalidData
	}

	subscriptions, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	history := make([]domain.HistoryEntry, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		history = append(history, domain.HistoryEntry{
			ID:             subscription.ID.String(),
			Plan:           subscription.PlanSnapshot.PlanID,
			PlanName:       subscription.PlanSnapshot.Name,
			DurationMonths: subscription.PlanSnapshot.DurationMonths,
			StartDate:      subscription.StartDate,
			EndDate:        subscription.EndDate,
			Amount:         subscription.PaymentInfo.AmountPaid,
			PaymentStatus:  subscription.PaymentInfo.PaymentStatus,
			IsActive:       subscription.IsActive,
			CreatedAt:      subscription.CreatedAt,
		})
	}

	return history, nil
}

// RefundPayment initiates a gateway refund against a completed payment
func (s *subscriptionService) RefundPayment(ctx context.Context, transactionID, remarks string) (*sslcommerz.RefundResponse, error) {
	subscription, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if subscription.PaymentInfo.PaymentStatus != domain.PaymentStatusCompleted {
		return nil, domain.ErrInvalidOperation
	}
	if subscription.PaymentInfo.BankTranID == "" {
		s.log.Warnw("Refund requested but no bank transaction recorded", "transactionID", transactionID)
		return nil, domain.ErrInvalidOperation
	}

	refund, err := s.gateway.InitiateRefund(ctx, subscription.PaymentInfo.BankTranID, subscription.PaymentInfo.AmountPaid, remarks)
	if err != nil {
		s.metrics.RecordGatewayError("refund")
		return nil, err
	}

	s.log.Infow("Refund initiated", "transactionID", transactionID, "refundRefID", refund.RefundRefID)
	return refund, nil
}
