package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/internal/gateway/sslcommerz"
	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/internal/service"
	"github.com/briefly60/payment-service/pkg/logger"
)

// fakeSubscriptionService lets each test script the orchestration outcome
type fakeSubscriptionService struct {
	initResult  *service.InitiatePaymentResult
	initErr     error
	successSub  domain.Subscription
	successErr  error
	failErr     error
	cancelErr   error
	ipnMessage  string
	ipnErr      error
	lastIPN     service.IPNRequest
	failedTrans []string
}

func (f *fakeSubscriptionService) InitiatePayment(ctx context.Context, req service.InitiatePaymentRequest) (*service.InitiatePaymentResult, error) {
	return f.initResult, f.initErr
}

func (f *fakeSubscriptionService) HandleSuccess(ctx context.Context, transactionID, valID string) (domain.Subscription, error) {
	return f.successSub, f.successErr
}

func (f *fakeSubscriptionService) HandleFailure(ctx context.Context, transactionID, reason string) error {
	f.failedTrans = append(f.failedTrans, transactionID)
	return f.failErr
}

func (f *fakeSubscriptionService) HandleCancel(ctx context.Context, transactionID string) error {
	return f.cancelErr
}

func (f *fakeSubscriptionService) HandleIPN(ctx context.Context, req service.IPNRequest) (string, error) {
	f.lastIPN = req
	return f.ipnMessage, f.ipnErr
}

func (f *fakeSubscriptionService) GetStatus(ctx context.Context, userID string) (domain.SubscriptionStatus, error) {
	return domain.SubscriptionStatus{}, nil
}

func (f *fakeSubscriptionService) GetHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeSubscriptionService) RefundPayment(ctx context.Context, transactionID, remarks string) (*sslcommerz.RefundResponse, error) {
	return nil, nil
}

const frontendURL = "http://localhost:3000"

func newCallbackRouter(svc service.SubscriptionService) *gin.Engine {
	gin.SetMode(gin.TestMode)

	handler := NewCallbackHandler(svc, frontendURL, logger.New(logger.ERROR))
	r := gin.New()
	r.POST("/success", handler.HandleSuccess)
	r.GET("/success", handler.HandleSuccess)
	r.POST("/fail", handler.HandleFail)
	r.POST("/cancel", handler.HandleCancel)
	r.POST("/ipn", handler.HandleIPN)
	return r
}

func postForm(r *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSuccessCallbackRedirectsToFrontend(t *testing.T) {
	svc := &fakeSubscriptionService{
		successSub: domain.Subscription{
			PlanSnapshot: domain.PlanSnapshot{PlanID: "half_yearly"},
		},
	}
	r := newCallbackRouter(svc)

	w := postForm(r, "/success", url.Values{
		"tran_id": {"SUB_U1_1"},
		"val_id":  {"VAL123"},
	})

	require.Equal(t, http.StatusSeeOther, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location.String(), frontendURL))
	assert.Equal(t, "success", location.Query().Get("status"))
	assert.Equal(t, "half_yearly", location.Query().Get("plan"))
}

func TestSuccessCallbackFailureStillRedirects(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{"unknown transaction", repository.ErrNotFound, "Transaction not found"},
		{"tampered", domain.ErrTransactionMismatch, "Payment verification failed"},
		{"missing params", repository.ErrInvalidData, "Missing payment information"},
		{"gateway rejected", domain.NewGatewayError("validate", "Amount Mismatch", domain.ErrPaymentFailed), "Amount Mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCallbackRouter(&fakeSubscriptionService{successErr: tt.err})

			w := postForm(r, "/success", url.Values{"tran_id": {"SUB_U1_1"}, "val_id": {"VAL123"}})

			require.Equal(t, http.StatusSeeOther, w.Code)
			location, err := url.Parse(w.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "failed", location.Query().Get("status"))
			assert.Equal(t, tt.wantMessage, location.Query().Get("message"))
		})
	}
}

func TestSuccessCallbackAcceptsGET(t *testing.T) {
	svc := &fakeSubscriptionService{
		successSub: domain.Subscription{PlanSnapshot: domain.PlanSnapshot{PlanID: "monthly"}},
	}
	r := newCallbackRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/success?tran_id=SUB_U1_1&val_id=VAL123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestFailCallbackRedirects(t *testing.T) {
	svc := &fakeSubscriptionService{}
	r := newCallbackRouter(svc)

	w := postForm(r, "/fail", url.Values{"tran_id": {"SUB_U1_1"}, "error": {"Card declined"}})

	require.Equal(t, http.StatusSeeOther, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "failed", location.Query().Get("status"))
	assert.Equal(t, []string{"SUB_U1_1"}, svc.failedTrans)
}

func TestCancelCallbackRedirects(t *testing.T) {
	r := newCallbackRouter(&fakeSubscriptionService{})

	w := postForm(r, "/cancel", url.Values{"tran_id": {"SUB_U1_1"}})

	require.Equal(t, http.StatusSeeOther, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "cancelled", location.Query().Get("status"))
}

func TestIPNStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		err      error
		wantCode int
	}{
		{"processed", "Payment processed", nil, http.StatusOK},
		{"already processed", "Already processed", nil, http.StatusOK},
		{"unknown transaction", "", repository.ErrNotFound, http.StatusNotFound},
		{"payment not valid", "", domain.ErrPaymentFailed, http.StatusBadRequest},
		{"mismatch", "", domain.ErrTransactionMismatch, http.StatusBadRequest},
		{"illegal transition", "", domain.ErrInvalidOperation, http.StatusBadRequest},
		{"gateway rejected", "", domain.NewGatewayError("validate", "Risk hold", domain.ErrPaymentFailed), http.StatusBadRequest},
		{"gateway down", "", domain.NewGatewayError("validate", "timeout", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSubscriptionService{ipnMessage: tt.message, ipnErr: tt.err}
			r := newCallbackRouter(svc)

			w := postForm(r, "/ipn", url.Values{
				"tran_id": {"SUB_U1_1"},
				"val_id":  {"VAL123"},
				"status":  {"VALID"},
				"amount":  {"250.00"},
			})

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "SUB_U1_1", svc.lastIPN.TranID)
		})
	}
}
