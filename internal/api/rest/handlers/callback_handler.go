package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/internal/service"
	"github.com/briefly60/payment-service/pkg/logger"
)

// CallbackHandler serves the gateway's browser redirects and the IPN webhook.
// The browser endpoints always resolve to a frontend redirect, never a bare
// error page; the IPN endpoint speaks JSON to the gateway's servers.
type CallbackHandler struct {
	subscriptionSvc service.SubscriptionService
	frontendURL     string
	log             *logger.Logger
}

// NewCallbackHandler creates the callback handler
func NewCallbackHandler(subscriptionSvc service.SubscriptionService, frontendURL string, log *logger.Logger) *CallbackHandler {
	return &CallbackHandler{
		subscriptionSvc: subscriptionSvc,
		frontendURL:     frontendURL,
		log:             log,
	}
}

// callbackParam reads a gateway parameter from the form body or the query
// string; SSLCommerz sends POSTs but browsers may replay them as GETs.
func callbackParam(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}

func (h *CallbackHandler) redirect(c *gin.Context, params url.Values) {
	c.Redirect(http.StatusSeeOther, fmt.Sprintf("%s/subscription?%s", h.frontendURL, params.Encode()))
}

// HandleSuccess processes the gateway's success redirect
func (h *CallbackHandler) HandleSuccess(c *gin.Context) {
	tranID := callbackParam(c, "tran_id")
	valID := callbackParam(c, "val_id")

	subscription, err := h.subscriptionSvc.HandleSuccess(c.Request.Context(), tranID, valID)
	if err != nil {
		h.log.Warnw("Success callback did not complete", "error", err, "transactionID", tranID)

		message := "Payment verification failed"
		var gatewayErr *domain.GatewayError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			message = "Transaction not found"
		case errors.Is(err, domain.ErrTransactionMismatch):
			message = "Payment verification failed"
		case errors.Is(err, repository.ErrInvalidData):
			message = "Missing payment information"
		case errors.As(err, &gatewayErr) && gatewayErr.Reason != "":
			// Surface the gateway's own failure message to the frontend.
			message = gatewayErr.Reason
		}
		h.redirect(c, url.Values{"status": {"failed"}, "message": {message}})
		return
	}

	h.redirect(c, url.Values{
		"status": {"success"},
		"plan":   {subscription.PlanSnapshot.PlanID},
	})
}

// HandleFail processes the gateway's failure redirect
func (h *CallbackHandler) HandleFail(c *gin.Context) {
	tranID := callbackParam(c, "tran_id")
	reason := callbackParam(c, "error")

	if err := h.subscriptionSvc.HandleFailure(c.Request.Context(), tranID, reason); err != nil {
		h.log.Warnw("Failure callback error", "error", err, "transactionID", tranID)
	}

	h.redirect(c, url.Values{"status": {"failed"}})
}

// HandleCancel processes the gateway's cancellation redirect
func (h *CallbackHandler) HandleCancel(c *gin.Context) {
	tranID := callbackParam(c, "tran_id")

	if err := h.subscriptionSvc.HandleCancel(c.Request.Context(), tranID); err != nil {
		h.log.Warnw("Cancel callback error", "error", err, "transactionID", tranID)
	}

	h.redirect(c, url.Values{"status": {"cancelled"}})
}

// HandleIPN processes the gateway's server-to-server payment notification
func (h *CallbackHandler) HandleIPN(c *gin.Context) {
	req := service.IPNRequest{
		TranID: c.PostForm("tran_id"),
		ValID:  c.PostForm("val_id"),
		Status: c.PostForm("status"),
		Amount: c.PostForm("amount"),
	}

	message, err := h.subscriptionSvc.HandleIPN(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Transaction not found"})
		case errors.Is(err, domain.ErrPaymentFailed):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Payment not valid"})
		case errors.Is(err, domain.ErrTransactionMismatch),
			errors.Is(err, domain.ErrInvalidOperation),
			errors.Is(err, repository.ErrInvalidData):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid notification"})
		default:
			h.log.Error("IPN processing failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process notification"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}
