package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/briefly60/payment-service/internal/api/rest/middleware"
	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/internal/service"
	"github.com/briefly60/payment-service/pkg/logger"
)

// SubscriptionHandler serves the authenticated subscription endpoints
type SubscriptionHandler struct {
	subscriptionSvc service.SubscriptionService
	planSvc         service.PlanService
	log             *logger.Logger
}

// NewSubscriptionHandler creates the subscription handler. Services are
// injected so tests can substitute fakes.
func NewSubscriptionHandler(subscriptionSvc service.SubscriptionService, planSvc service.PlanService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionSvc: subscriptionSvc,
		planSvc:         planSvc,
		log:             log,
	}
}

type initiatePaymentBody struct {
	Plan  string `json:"plan" binding:"required"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// InitiatePayment opens a checkout session for the authenticated user
func (h *SubscriptionHandler) InitiatePayment(c *gin.Context) {
	var body initiatePaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Invalid init request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Plan is required"})
		return
	}

	userID := c.GetString(string(middleware.ContextUserIDKey))
	userEmail := c.GetString(string(middleware.ContextUserEmailKey))

	result, err := h.subscriptionSvc.InitiatePayment(c.Request.Context(), service.InitiatePaymentRequest{
		UserID:        userID,
		PlanID:        body.Plan,
		CustomerName:  body.Name,
		CustomerEmail: userEmail,
		CustomerPhone: body.Phone,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPlanNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid subscription plan"})
		case errors.Is(err, domain.ErrActiveSubscriptionExists):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "You already have an active subscription"})
		case errors.Is(err, repository.ErrInvalidData):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request data"})
		default:
			h.log.Error("Failed to initiate payment: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to initiate payment"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"gateway_url":    result.GatewayURL,
		"session_key":    result.SessionKey,
		"transaction_id": result.TransactionID,
		"amount":         result.Amount,
		"currency":       result.Currency,
	})
}

// GetStatus reports whether the authenticated user has an active subscription
func (h *SubscriptionHandler) GetStatus(c *gin.Context) {
	userID := c.GetString(string(middleware.ContextUserIDKey))

	status, err := h.subscriptionSvc.GetStatus(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to get subscription status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to get subscription status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                 true,
		"has_active_subscription": status.HasActiveSubscription,
		"subscription":            status.Subscription,
	})
}

// GetHistory lists the authenticated user's payment history
func (h *SubscriptionHandler) GetHistory(c *gin.Context) {
	userID := c.GetString(string(middleware.ContextUserIDKey))

	history, err := h.subscriptionSvc.GetHistory(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to get subscription history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to get subscription history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"subscriptions": history,
	})
}

// GetPlans lists the purchasable plan catalog
func (h *SubscriptionHandler) GetPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"plans":   h.planSvc.ActivePlans(),
	})
}

type refundBody struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Remarks       string `json:"remarks"`
}

// RefundPayment initiates a gateway refund. Admin only.
func (h *SubscriptionHandler) RefundPayment(c *gin.Context) {
	var body refundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Transaction ID is required"})
		return
	}

	refund, err := h.subscriptionSvc.RefundPayment(c.Request.Context(), body.TransactionID, body.Remarks)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Transaction not found"})
		case errors.Is(err, domain.ErrInvalidOperation):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Transaction is not refundable"})
		default:
			h.log.Error("Failed to initiate refund: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to initiate refund"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"refund_ref_id": refund.RefundRefID,
		"status":        refund.Status,
	})
}
