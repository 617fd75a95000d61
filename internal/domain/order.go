package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus accepts the lower-case wire form of a status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// forward lists the single non-cancel step allowed out of each status.
var forward = map[OrderStatus]OrderStatus{
	OrderStatusPending:   OrderStatusPreparing,
	OrderStatusPreparing: OrderStatusReady,
	OrderStatusReady:     OrderStatusCompleted,
}

// CanTransitionTo reports whether an order may move from s to next.
// Staying in place and cancelling are always allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next || next == OrderStatusCancelled {
		return true
	}
	to, ok := forward[s]
	return ok && to == next
}

// Order is a customer's purchase. It exclusively owns its items.
type Order struct {
	ID            string
	UserID        string
	ReservationID *string
	Status        OrderStatus
	CreatedAt     time.Time
	Items         []OrderItem
}

// OrderItem is a line snapshot: UnitPrice is captured when the item row is
// written and never re-read from the catalog.
type OrderItem struct {
	ID         string
	OrderID    string
	MenuItemID string
	Quantity   int
	UnitPrice  decimal.Decimal
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the snapshot line totals.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Quantities groups the current items by menu item.
func (o Order) Quantities() QuantityMap {
	q := make(QuantityMap, len(o.Items))
	for _, item := range o.Items {
		q[item.MenuItemID] += item.Quantity
	}
	return q
}

// MenuItemPrice is a priced, currently purchasable catalog row.
type MenuItemPrice struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// ReservationSummary is the slice of a reservation shown on an order.
type ReservationSummary struct {
	ID          string
	ReservedFor time.Time
	PartySize   int
}
