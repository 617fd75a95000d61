package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the services wraps exactly one of
// these so callers can classify with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("conflict")
	ErrGateway          = errors.New("payment gateway error")
)

var (
	ErrUserNotFound        = kinded(ErrNotFound, "user not found")
	ErrReservationNotFound = kinded(ErrNotFound, "reservation not found")
	ErrOrderNotFound       = kinded(ErrNotFound, "order not found")
	ErrPaymentNotFound     = kinded(ErrNotFound, "payment not found")

	ErrInvalidID          = kinded(ErrValidation, "invalid id")
	ErrEmptyItems         = kinded(ErrValidation, "menu item list must not be empty")
	ErrInvalidTransition  = kinded(ErrValidation, "illegal order status transition")
	ErrInvalidStatus      = kinded(ErrValidation, "unknown status")
	ErrInvalidAmount      = kinded(ErrValidation, "amount must be greater than zero")
	ErrInvalidMethod      = kinded(ErrValidation, "unknown payment method")
	ErrInvalidCurrency    = kinded(ErrValidation, "currency must be a 3-letter code")
	ErrUserRequired       = kinded(ErrValidation, "user id is required")
	ErrItemsNotEditable   = kinded(ErrInvalidOperation, "order items can no longer be edited")
	ErrPaymentExists      = kinded(ErrConflict, "order already has a payment")
	ErrOrderHasPayment    = kinded(ErrConflict, "order has a linked payment")
	ErrRemoteOrderTaken   = kinded(ErrConflict, "remote order already linked to a payment")
	ErrGatewayUnavailable = kinded(ErrGateway, "payment gateway is not configured")
)

type kindError struct {
	kind error
	msg  string
}

func kinded(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// MissingMenuItemsError reports requested menu items that are deleted or
// currently unavailable.
type MissingMenuItemsError struct {
	IDs []string
}

func (e *MissingMenuItemsError) Error() string {
	return "menu items not found or unavailable: " + strings.Join(e.IDs, ", ")
}

func (e *MissingMenuItemsError) Unwrap() error { return ErrNotFound }

// RemoteStatusError is returned when a capture is attempted on a remote order
// the payer has not approved.
type RemoteStatusError struct {
	RemoteOrderID string
	Status        string
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("remote order %s is not approved (status %s)", e.RemoteOrderID, e.Status)
}

func (e *RemoteStatusError) Unwrap() error { return ErrValidation }

// GatewayError is a transport, auth or protocol failure talking to a payment
// provider. DebugID is the provider's diagnostic identifier when available.
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	DebugID    string
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.DebugID != "" {
		fmt.Fprintf(&b, " (debug_id %s)", e.DebugID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGateway}
	}
	return []error{ErrGateway, e.Err}
}
