package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrInvalidOperation illegal state transition or disallowed action
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrPlanNotFound the requested plan does not exist or is inactive
	ErrPlanNotFound = errors.New("subscription plan not found")

	// ErrActiveSubscriptionExists the user already holds an active subscription
	ErrActiveSubscriptionExists = errors.New("active subscription already exists")

	// ErrPaymentFailed the gateway rejected or could not complete the payment
	ErrPaymentFailed = errors.New("payment failed")

	// ErrTransactionMismatch the validated payment belongs to a different transaction
	ErrTransactionMismatch = errors.New("transaction id mismatch")
)

// GatewayError represents a failure reported by or while talking to the
// payment gateway. Reason carries the provider's own failure message when one
// was returned.
type GatewayError struct {
	Operation   string
	Reason      string
	OriginalErr error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("gateway error [%s]: %s: %v", e.Operation, e.Reason, e.OriginalErr)
	}
	return fmt.Sprintf("gateway error [%s]: %s", e.Operation, e.Reason)
}

// Unwrap returns the underlying error
func (e *GatewayError) Unwrap() error {
	return e.OriginalErr
}

// NewGatewayError creates a new gateway error
func NewGatewayError(operation, reason string, err error) *GatewayError {
	return &GatewayError{
		Operation:   operation,
		Reason:      reason,
		OriginalErr: err,
	}
}
