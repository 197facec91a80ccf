package sslcommerz

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

const (
	sandboxBaseURL = "https://sandbox.sslcommerz.com"
	liveBaseURL    = "https://securepay.sslcommerz.com"

	sessionInitPath        = "/gwprocess/v4/api.php"
	validationPath         = "/validator/api/validationserverAPI.php"
	merchantValidationPath = "/validator/api/merchantTransIDvalidationAPI.php"

	defaultTimeout = 30 * time.Second

	// payment date layout in validation responses
	tranDateLayout = "2006-01-02 15:04:05"
)

// Config holds the SSLCommerz client configuration
type Config struct {
	StoreID       string
	StorePassword string
	Live          bool
	// BaseURL overrides the sandbox/live URL selection; used in tests.
	BaseURL string
	Timeout time.Duration
}

// Session is a successfully opened checkout session
type Session struct {
	GatewayURL string
	SessionKey string
}

// ValidationResponse is the gateway's server-side view of a payment. Amount
// fields arrive as strings in the gateway's JSON.
type ValidationResponse struct {
	Status      string `json:"status"`
	TranDate    string `json:"tran_date"`
	TranID      string `json:"tran_id"`
	ValID       string `json:"val_id"`
	Amount      string `json:"amount"`
	StoreAmount string `json:"store_amount"`
	Currency    string `json:"currency"`
	BankTranID  string `json:"bank_tran_id"`
	CardType    string `json:"card_type"`
	CardNo      string `json:"card_no"`
	CardIssuer  string `json:"card_issuer"`
	CardBrand   string `json:"card_brand"`
	RiskLevel   string `json:"risk_level"`
	RiskTitle   string `json:"risk_title"`
	Error       string `json:"error"`
}

// PaymentMeta converts the validated response into the metadata the lifecycle
// store persists on completion.
func (v *ValidationResponse) PaymentMeta() domain.GatewayPaymentMeta {
	meta := domain.GatewayPaymentMeta{
		ValID:      v.ValID,
		CardType:   v.CardType,
		CardBrand:  v.CardBrand,
		CardIssuer: v.CardIssuer,
		BankTranID: v.BankTranID,
	}
	if amount, err := strconv.ParseFloat(v.Amount, 64); err == nil {
		meta.Amount = amount
	}
	if storeAmount, err := strconv.ParseFloat(v.StoreAmount, 64); err == nil {
		meta.StoreAmount = storeAmount
	}
	if v.TranDate != "" {
		if t, err := time.Parse(tranDateLayout, v.TranDate); err == nil {
			meta.PaymentDate = &t
		}
	}
	return meta
}

// RefundResponse is the gateway's reply to a refund initiation
type RefundResponse struct {
	Status      string `json:"status"`
	RefundRefID string `json:"refund_ref_id"`
	TransID     string `json:"trans_id"`
	BankTranID  string `json:"bank_tran_id"`
	ErrorReason string `json:"errorReason"`
}

type sessionInitResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// Client defines the operations against the SSLCommerz gateway
type Client interface {
	// InitiateSession opens a checkout session and returns the redirect URL.
	InitiateSession(ctx context.Context, fields PaymentFields) (*Session, error)

	// ValidatePayment validates a completed payment by the gateway-assigned
	// validation id. Callers must use this before marking anything completed;
	// redirect parameters are never authoritative.
	ValidatePayment(ctx context.Context, valID string) (*ValidationResponse, error)

	// VerifyTransaction is an independent cross-check by merchant transaction id.
	VerifyTransaction(ctx context.Context, tranID string) (*ValidationResponse, error)

	// InitiateRefund requests a refund against a settled bank transaction.
	InitiateRefund(ctx context.Context, bankTranID string, amount float64, remarks string) (*RefundResponse, error)

	// ValidateIntegrity checks an HMAC-SHA256 signature over the payment data.
	ValidateIntegrity(tranID, valID, amount, signature string) bool
}

// client implements Client over the gateway's HTTP API
type client struct {
	http          *resty.Client
	storeID       string
	storePassword string
	log           *logger.Logger
}

// NewClient creates a new SSLCommerz client. One instance is constructed at
// process start and injected into the orchestration layer.
func NewClient(cfg Config, log *logger.Logger) (Client, error) {
	if cfg.StoreID == "" || cfg.StorePassword == "" {
		return nil, errors.New("sslcommerz credentials are not configured")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sandboxBaseURL
		if cfg.Live {
			baseURL = liveBaseURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &client{
		http:          httpClient,
		storeID:       cfg.StoreID,
		storePassword: cfg.StorePassword,
		log:           log,
	}, nil
}

// InitiateSession posts the form-encoded payment fields to the gateway's init
// endpoint. Store credentials are injected here, never client-supplied.
func (c *client) InitiateSession(ctx context.Context, fields PaymentFields) (*Session, error) {
	form := fields.formValues()
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePassword)
	if form.Get("value_d") == "" {
		form.Set("value_d", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}

	var result sessionInitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormDataFromValues(form).
		SetResult(&result).
		Post(sessionInitPath)
	if err != nil {
		c.log.Errorw("SSLCommerz session init request failed", "tranID", fields.TranID, "error", err)
		return nil, domain.NewGatewayError("init", "failed to connect to payment gateway", err)
	}

	if result.Status != "SUCCESS" {
		reason := result.FailedReason
		if reason == "" {
			reason = "payment initialization failed"
		}
		c.log.Warnw("SSLCommerz rejected session init", "tranID", fields.TranID, "status", result.Status, "reason", reason, "httpStatus", resp.StatusCode())
		return nil, domain.NewGatewayError("init", reason, nil)
	}

	c.log.Infow("SSLCommerz session opened", "tranID", fields.TranID, "sessionKey", result.SessionKey)
	return &Session{
		GatewayURL: result.GatewayPageURL,
		SessionKey: result.SessionKey,
	}, nil
}

// ValidatePayment fetches the gateway's authoritative record for a validation id
func (c *client) ValidatePayment(ctx context.Context, valID string) (*ValidationResponse, error) {
	var result ValidationResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"val_id":       valID,
			"store_id":     c.storeID,
			"store_passwd": c.storePassword,
			"format":       "json",
		}).
		SetResult(&result).
		Get(validationPath)
	if err != nil {
		c.log.Errorw("SSLCommerz validation request failed", "valID", valID, "error", err)
		return nil, domain.NewGatewayError("validate", "failed to validate payment", err)
	}

	if result.Status != "VALID" && result.Status != "VALIDATED" {
		reason := result.Error
		if reason == "" {
			reason = "payment validation failed"
		}
		c.log.Warnw("SSLCommerz payment validation rejected", "valID", valID, "status", result.Status, "reason", reason)
		// The gateway answered and rejected the payment. Wrapping
		// ErrPaymentFailed lets callers distinguish this from a transport
		// failure, where the payment's real state is unknown.
		return nil, domain.NewGatewayError("validate", reason, domain.ErrPaymentFailed)
	}

	return &result, nil
}

// VerifyTransaction checks a payment by merchant transaction id
func (c *client) VerifyTransaction(ctx context.Context, tranID string) (*ValidationResponse, error) {
	var result ValidationResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tran_id":      tranID,
			"store_id":     c.storeID,
			"store_passwd": c.storePassword,
			"format":       "json",
		}).
		SetResult(&result).
		Get(merchantValidationPath)
	if err != nil {
		c.log.Errorw("SSLCommerz transaction verification request failed", "tranID", tranID, "error", err)
		return nil, domain.NewGatewayError("verify", "failed to verify transaction", err)
	}

	if result.Status != "VALID" && result.Status != "VALIDATED" {
		c.log.Warnw("SSLCommerz transaction verification rejected", "tranID", tranID, "status", result.Status)
		return nil, domain.NewGatewayError("verify", "transaction verification failed", nil)
	}

	return &result, nil
}

// InitiateRefund requests a refund for a settled bank transaction
func (c *client) InitiateRefund(ctx context.Context, bankTranID string, amount float64, remarks string) (*RefundResponse, error) {
	var result RefundResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"bank_tran_id":   bankTranID,
			"refund_amount":  strconv.FormatFloat(amount, 'f', 2, 64),
			"refund_remarks": remarks,
			"store_id":       c.storeID,
			"store_passwd":   c.storePassword,
			"format":         "json",
		}).
		SetResult(&result).
		Post(merchantValidationPath)
	if err != nil {
		c.log.Errorw("SSLCommerz refund request failed", "bankTranID", bankTranID, "error", err)
		return nil, domain.NewGatewayError("refund", "failed to process refund", err)
	}

	if result.Status != "SUCCESS" {
		reason := result.ErrorReason
		if reason == "" {
			reason = "refund initiation failed"
		}
		c.log.Warnw("SSLCommerz refund rejected", "bankTranID", bankTranID, "status", result.Status, "reason", reason)
		return nil, domain.NewGatewayError("refund", reason, nil)
	}

	c.log.Infow("SSLCommerz refund initiated", "bankTranID", bankTranID, "refundRefID", result.RefundRefID)
	return &result, nil
}

// ValidateIntegrity checks the HMAC-SHA256 signature over the concatenated
// payment data, keyed with the store password.
func (c *client) ValidateIntegrity(tranID, valID, amount, signature string) bool {
	data := fmt.Sprintf("%s%s%s%s", tranID, valID, amount, c.storePassword)
	mac := hmac.New(sha256.New, []byte(c.storePassword))
	mac.Write([]byte(data))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
