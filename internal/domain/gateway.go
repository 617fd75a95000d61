package domain

import "github.com/shopspring/decimal"

// RemoteState is the provider-neutral state of a remote payment order.
type RemoteState string

const (
	RemoteStateCreated   RemoteState = "created"
	RemoteStateApproved  RemoteState = "approved"
	RemoteStateCompleted RemoteState = "completed"
	RemoteStateVoided    RemoteState = "voided"
	RemoteStateUnknown   RemoteState = "unknown"
)

// RemoteStatus pairs the neutral state with the provider's own token.
type RemoteStatus struct {
	State RemoteState
	Raw   string
}

type RemoteOrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
	Description string
	ReferenceID string
}

type RemoteOrder struct {
	ID          string
	ApprovalURL string
}

type RemoteCapture struct {
	Status    RemoteStatus
	CaptureID string
	Amount    decimal.Decimal
	DebugID   string
}
