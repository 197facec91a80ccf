package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/internal/gateway/sslcommerz"
	"github.com/briefly60/payment-service/internal/metrics"
	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/pkg/logger"
)

// fakeGateway implements sslcommerz.Client for orchestration tests
type fakeGateway struct {
	initErr      error
	session      sslcommerz.Session
	validateErr  error
	validation   sslcommerz.ValidationResponse
	verifyErr    error
	verification sslcommerz.ValidationResponse
	refundErr    error
	refund       sslcommerz.RefundResponse

	initCalls     int
	validateCalls int
	verifyCalls   int
	lastFields    sslcommerz.PaymentFields
}

func (f *fakeGateway) InitiateSession(ctx context.Context, fields sslcommerz.PaymentFields) (*sslcommerz.Session, error) {
	f.initCalls++
	f.lastFields = fields
	if f.initErr != nil {
		return nil, f.initErr
	}
	s := f.session
	return &s, nil
}

func (f *fakeGateway) ValidatePayment(ctx context.Context, valID string) (*sslcommerz.ValidationResponse, error) {
	f.validateCalls++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	v := f.validation
	return &v, nil
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, tranID string) (*sslcommerz.ValidationResponse, error) {
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	v := f.verification
	return &v, nil
}

func (f *fakeGateway) InitiateRefund(ctx context.Context, bankTranID string, amount float64, remarks string) (*sslcommerz.RefundResponse, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	r := f.refund
	return &r, nil
}

func (f *fakeGateway) ValidateIntegrity(tranID, valID, amount, signature string) bool {
	return true
}

type serviceFixture struct {
	svc     SubscriptionService
	repo    *repository.InMemorySubscriptionRepository
	gateway *fakeGateway
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	log := logger.New(logger.ERROR)
	repo := repository.NewInMemorySubscriptionRepository(log)
	gateway := &fakeGateway{
		session: sslcommerz.Session{
			GatewayURL: "https://sandbox.sslcommerz.com/EasyCheckOut/test",
			SessionKey: "SESSION123",
		},
	}

	svc := NewSubscriptionService(
		repo,
		NewPlanService(log),
		gateway,
		nil,
		metrics.NewPaymentMetrics(prometheus.NewRegistry()),
		CallbackURLs{
			SuccessURL: "http://localhost:8080/api/v1/subscription/sslcommerz/success",
			FailURL:    "http://localhost:8080/api/v1/subscription/sslcommerz/fail",
			CancelURL:  "http://localhost:8080/api/v1/subscription/sslcommerz/cancel",
			IPNURL:     "http://localhost:8080/api/v1/subscription/sslcommerz/ipn",
		},
		log,
	)

	return &serviceFixture{svc: svc, repo: repo, gateway: gateway}
}

func (fx *serviceFixture) initiate(t *testing.T, userID string) *InitiatePaymentResult {
	t.Helper()

	result, err := fx.svc.InitiatePayment(context.Background(), InitiatePaymentRequest{
		UserID:        userID,
		PlanID:        "half_yearly",
		CustomerName:  "Test User",
		CustomerEmail: "user@example.com",
	})
	require.NoError(t, err)
	return result
}

// validFor makes the fake gateway vouch for the given transaction
func (fx *serviceFixture) validFor(transactionID string, amount string) {
	v := sslcommerz.ValidationResponse{
		Status:     "VALID",
		TranID:     transactionID,
		ValID:      "VAL123",
		Amount:     amount,
		BankTranID: "BANK123",
		CardType:   "VISA",
	}
	fx.gateway.validation = v
	fx.gateway.verification = v
}

func TestInitiatePaymentCreatesPendingRecord(t *testing.T) {
	fx := newServiceFixture(t)

	result := fx.initiate(t, "USER1")

	assert.Equal(t, "https://sandbox.sslcommerz.com/EasyCheckOut/test", result.GatewayURL)
	assert.Equal(t, 250.0, result.Amount)
	assert.Contains(t, result.TransactionID, "USER1")

	sub, err := fx.repo.GetByTransactionID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, sub.PaymentInfo.PaymentStatus)
	assert.False(t, sub.IsActive)
	assert.Equal(t, "half_yearly", sub.PlanSnapshot.PlanID)
	assert.Equal(t, 6, sub.PlanSnapshot.DurationMonths)

	// Passthrough slots carry the typed context to the IPN webhook.
	assert.Equal(t, "USER1", fx.gateway.lastFields.ValueA)
	assert.Equal(t, "half_yearly", fx.gateway.lastFields.ValueB)
	assert.Equal(t, "6", fx.gateway.lastFields.ValueC)
	assert.NotEmpty(t, fx.gateway.lastFields.ValueD)
}

func TestInitiatePaymentRejectsUnknownAndFreePlans(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.InitiatePayment(context.Background(), InitiatePaymentRequest{UserID: "USER1", PlanID: "free"})
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	_, err = fx.svc.InitiatePayment(context.Background(), InitiatePaymentRequest{UserID: "USER1", PlanID: "platinum"})
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	assert.Zero(t, fx.gateway.initCalls)
}

func TestInitiatePaymentRejectsSecondActiveSubscription(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.validFor(result.TransactionID, "250.00")

	_, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.NoError(t, err)

	_, err = fx.svc.InitiatePayment(ctx, InitiatePaymentRequest{UserID: "USER1", PlanID: "monthly"})
	assert.ErrorIs(t, err, domain.ErrActiveSubscriptionExists)

	// The rejected init must not leave a new pending record behind.
	history, err := fx.svc.GetHistory(ctx, "USER1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestInitiatePaymentGatewayFailureMarksRecordFailed(t *testing.T) {
	fx := newServiceFixture(t)
	fx.gateway.initErr = domain.NewGatewayError("init", "Store Credential Error", nil)

	_, err := fx.svc.InitiatePayment(context.Background(), InitiatePaymentRequest{UserID: "USER1", PlanID: "monthly"})
	require.Error(t, err)

	history, err := fx.svc.GetHistory(context.Background(), "USER1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.PaymentStatusFailed, history[0].PaymentStatus)
}

func TestHandleSuccessCompletesAndActivates(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.validFor(result.TransactionID, "250.00")

	sub, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, sub.PaymentInfo.PaymentStatus)
	assert.True(t, sub.IsActive)
	assert.Equal(t, "BANK123", sub.PaymentInfo.BankTranID)
	require.NotNil(t, sub.EndDate)

	status, err := fx.svc.GetStatus(ctx, "USER1")
	require.NoError(t, err)
	assert.True(t, status.HasActiveSubscription)
	require.NotNil(t, status.Subscription)
	assert.Equal(t, "half_yearly", status.Subscription.Plan)
	assert.Greater(t, status.Subscription.DaysRemaining, 0)
}

func TestHandleSuccessTamperedTransactionLeavesPendingUntouched(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")

	// Gateway vouches for a different transaction than the one in the URL.
	fx.validFor("SUB_OTHER_999", "250.00")

	_, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	assert.ErrorIs(t, err, domain.ErrTransactionMismatch)

	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, sub.PaymentInfo.PaymentStatus)
}

func TestHandleSuccessAmountMismatchRejected(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.validFor(result.TransactionID, "5.00")

	_, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	assert.ErrorIs(t, err, domain.ErrTransactionMismatch)
}

func TestHandleSuccessIdempotentWithoutRevalidation(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.validFor(result.TransactionID, "250.00")

	first, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.NoError(t, err)
	validations := fx.gateway.validateCalls

	second, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, validations, fx.gateway.validateCalls, "a completed record must not be revalidated")
}

func TestHandleCancelAndLateSuccess(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	require.NoError(t, fx.svc.HandleCancel(ctx, result.TransactionID))

	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, sub.PaymentInfo.PaymentStatus)
	assert.Equal(t, "Payment cancelled by user", sub.PaymentInfo.ErrorMessage)

	// A success redirect arriving after cancellation is an illegal transition.
	fx.validFor(result.TransactionID, "250.00")
	_, err = fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestHandleIPNFullFlow(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.validFor(result.TransactionID, "250.00")

	message, err := fx.svc.HandleIPN(ctx, IPNRequest{
		TranID: result.TransactionID,
		ValID:  "VAL123",
		Status: "VALID",
		Amount: "250.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "Payment processed", message)
	assert.Equal(t, 1, fx.gateway.verifyCalls, "IPN must cross-check via transaction verification")

	// Replay is acknowledged without touching state.
	message, err = fx.svc.HandleIPN(ctx, IPNRequest{
		TranID: result.TransactionID,
		ValID:  "VAL123",
		Status: "VALID",
	})
	require.NoError(t, err)
	assert.Equal(t, "Already processed", message)
	assert.Equal(t, 1, fx.gateway.verifyCalls)
}

func TestHandleIPNForgedStatusLeavesPaymentPending(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")

	// The notification body is unauthenticated, so a reported failure must
	// be rejected without killing the payment.
	_, err := fx.svc.HandleIPN(ctx, IPNRequest{
		TranID: result.TransactionID,
		ValID:  "VAL123",
		Status: "FAILED",
	})
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.Equal(t, 0, fx.gateway.validateCalls)

	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, sub.PaymentInfo.PaymentStatus)

	// The legitimate completion still goes through afterwards.
	fx.validFor(result.TransactionID, "250.00")
	completed, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, completed.PaymentInfo.PaymentStatus)
	assert.True(t, completed.IsActive)
}

func TestHandleSuccessValidationRejectionFailsRecord(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.gateway.validateErr = domain.NewGatewayError("validate", "Amount Mismatch", domain.ErrPaymentFailed)

	_, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)

	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, sub.PaymentInfo.PaymentStatus)
	assert.Equal(t, "Amount Mismatch", sub.PaymentInfo.ErrorMessage)
}

func TestHandleSuccessValidationTransportErrorLeavesPending(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.gateway.validateErr = domain.NewGatewayError("validate", "failed to validate payment", errors.New("connection refused"))

	_, err := fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPaymentFailed)

	// The payment's real state is unknown, so the record stays pending for
	// the IPN retry to settle.
	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, sub.PaymentInfo.PaymentStatus)
}

func TestHandleIPNValidationRejectionFailsRecord(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.gateway.validateErr = domain.NewGatewayError("validate", "Risk hold", domain.ErrPaymentFailed)

	_, err := fx.svc.HandleIPN(ctx, IPNRequest{
		TranID: result.TransactionID,
		ValID:  "VAL123",
		Status: "VALID",
	})
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)

	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, sub.PaymentInfo.PaymentStatus)
	assert.Equal(t, "Risk hold", sub.PaymentInfo.ErrorMessage)
}

func TestHandleIPNUnknownTransaction(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.HandleIPN(context.Background(), IPNRequest{
		TranID: "SUB_UNKNOWN_1",
		ValID:  "VAL123",
		Status: "VALID",
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHandleIPNVerificationMismatchRejected(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")
	fx.validFor(result.TransactionID, "250.00")
	fx.gateway.verification.ValID = "VAL_DIFFERENT"

	_, err := fx.svc.HandleIPN(ctx, IPNRequest{
		TranID: result.TransactionID,
		ValID:  "VAL123",
		Status: "VALID",
	})
	assert.ErrorIs(t, err, domain.ErrTransactionMismatch)

	sub, err := fx.repo.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, sub.PaymentInfo.PaymentStatus)
}

func TestCompletionDeactivatesPreviousSubscription(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	first := fx.initiate(t, "USER1")
	fx.validFor(first.TransactionID, "250.00")
	firstSub, err := fx.svc.HandleSuccess(ctx, first.TransactionID, "VAL123")
	require.NoError(t, err)

	// Force the first subscription out of the active window, then buy again.
	_, err = fx.repo.ExpireOverdue(ctx, firstSub.EndDate.Add(time.Hour))
	require.NoError(t, err)

	second := fx.initiate(t, "USER1")
	fx.validFor(second.TransactionID, "250.00")
	_, err = fx.svc.HandleSuccess(ctx, second.TransactionID, "VAL123")
	require.NoError(t, err)

	history, err := fx.svc.GetHistory(ctx, "USER1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	active, err := fx.repo.GetActiveByUserID(ctx, "USER1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, second.TransactionID, active.PaymentInfo.TransactionID)
}

func TestGetStatusWithoutSubscription(t *testing.T) {
	fx := newServiceFixture(t)

	status, err := fx.svc.GetStatus(context.Background(), "USER1")
	require.NoError(t, err)
	assert.False(t, status.HasActiveSubscription)
	assert.Nil(t, status.Subscription)
}

func TestRefundPaymentRequiresCompletedRecord(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result := fx.initiate(t, "USER1")

	_, err := fx.svc.RefundPayment(ctx, result.TransactionID, "test refund")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	fx.validFor(result.TransactionID, "250.00")
	_, err = fx.svc.HandleSuccess(ctx, result.TransactionID, "VAL123")
	require.NoError(t, err)

	fx.gateway.refund = sslcommerz.RefundResponse{Status: "SUCCESS", RefundRefID: "REF123"}
	refund, err := fx.svc.RefundPayment(ctx, result.TransactionID, "test refund")
	require.NoError(t, err)
	assert.Equal(t, "REF123", refund.RefundRefID)
}
