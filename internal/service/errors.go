package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Sentinel errors, match with errors.Is
// ============================================================================

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrNotActive              = errors.New("gift card is not active")
	ErrExpired                = errors.New("gift card has expired")
	ErrEmptyBalance           = errors.New("gift card has no balance left")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrRefundExceedsAmount    = errors.New("refund would exceed the issued amount")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("concurrent modification, retry later")
	ErrOrderNotEligible       = errors.New("order is not eligible for commission")
)

// ============================================================================
// Structured errors
// ============================================================================

// InsufficientBalanceError carries the amounts of a rejected debit.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// RefundExceedsError carries the headroom left below the issued amount.
type RefundExceedsError struct {
	Refundable decimal.Decimal
	Requested  decimal.Decimal
}

func (e *RefundExceedsError) Error() string {
	return fmt.Sprintf("refund exceeds issued amount: refundable %s, requested %s", e.Refundable, e.Requested)
}

func (e *RefundExceedsError) Unwrap() error {
	return ErrRefundExceedsAmount
}

// TransitionError names the rejected edge.
type TransitionError struct {
	From, To string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ============================================================================
// Helpers
// ============================================================================

// IsClientError reports whether err was caused by the request rather than by
// the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrEmptyBalance) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrRefundExceedsAmount) ||
		errors.Is(err, ErrOrderNotEligible)
}
