package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash             PaymentMethod = "cash"
	PaymentMethodCard             PaymentMethod = "card"
	PaymentMethodExternalProvider PaymentMethod = "external_provider"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodExternalProvider:
		return m, nil
	}
	return "", ErrInvalidMethod
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// Payment settles exactly one order. Provider fields are set only for
// payments driven through an external gateway.
type Payment struct {
	ID                string
	OrderID           string
	Amount            decimal.Decimal
	Method            PaymentMethod
	Status            PaymentStatus
	PaidAt            *time.Time
	Currency          string
	Provider          *string
	ProviderOrderID   *string
	ProviderCaptureID *string
}

// Captured reports whether a remote capture already settled this payment.
func (p Payment) Captured() bool {
	return p.ProviderCaptureID != nil && *p.ProviderCaptureID != "" && p.Status == PaymentStatusCompleted
}
