package app

import (
	"context"

	"github.com/bistrohq/orders-api/internal/domain"
)

// OrderRepository persists orders together with their items. WithTx nests:
// repository calls made with the ctx passed to fn join the same transaction.
type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, filter ListOrdersFilter) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) error
	ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error
	DeleteOrder(ctx context.Context, id string) error
}

// PaymentLookup is the read side of payments needed to compose order views.
type PaymentLookup interface {
	GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
}

type PaymentRepository interface {
	PaymentLookup
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreatePayment(ctx context.Context, payment domain.Payment) error
	GetPayment(ctx context.Context, id string) (domain.Payment, error)
	GetPaymentByProviderOrderForUpdate(ctx context.Context, provider, providerOrderID string) (domain.Payment, error)
	UpdatePayment(ctx context.Context, payment domain.Payment) error
	DeletePayment(ctx context.Context, id string) error
}

// OrderReader is the order access PaymentService needs.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
}

// MenuCatalog resolves ids to currently purchasable items. Ids that are
// deleted or unavailable are simply absent from the result.
type MenuCatalog interface {
	ResolveAvailable(ctx context.Context, ids []string) ([]domain.MenuItemPrice, error)
}

// UserDirectory returns domain.ErrUserNotFound for unknown ids.
type UserDirectory interface {
	UserName(ctx context.Context, id string) (string, error)
}

// UserForgetter is implemented by user directories that cache lookups.
type UserForgetter interface {
	Forget(id string)
}

// ReservationDirectory returns domain.ErrReservationNotFound for unknown ids.
type ReservationDirectory interface {
	Reservation(ctx context.Context, id string) (domain.ReservationSummary, error)
}

// PaymentGateway is one external payment provider. Implementations map
// their own wire format onto the neutral domain types.
type PaymentGateway interface {
	Name() string
	CreateRemoteOrder(ctx context.Context, req domain.RemoteOrderRequest) (domain.RemoteOrder, error)
	RemoteOrderStatus(ctx context.Context, remoteOrderID string) (domain.RemoteStatus, error)
	CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (domain.RemoteCapture, error)
}
