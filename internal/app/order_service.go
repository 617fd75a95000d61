package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bistrohq/orders-api/internal/clock"
	"github.com/bistrohq/orders-api/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type OrderService struct {
	orders       OrderRepository
	payments     PaymentLookup
	catalog      MenuCatalog
	users        UserDirectory
	reservations ReservationDirectory
	clock        clock.Clock
	events       EventPublisher
	logger       *slog.Logger
}

type OrderServiceOption func(*OrderService)

func WithOrderEvents(pub EventPublisher) OrderServiceOption {
	return func(s *OrderService) {
		if pub != nil {
			s.events = pub
		}
	}
}

func WithOrderLogger(logger *slog.Logger) OrderServiceOption {
	return func(s *OrderService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewOrderService(
	orders OrderRepository,
	payments PaymentLookup,
	catalog MenuCatalog,
	users UserDirectory,
	reservations ReservationDirectory,
	clk clock.Clock,
	opts ...OrderServiceOption,
) *OrderService {
	svc := &OrderService{
		orders:       orders,
		payments:     payments,
		catalog:      catalog,
		users:        users,
		reservations: reservations,
		clock:        clk,
		events:       noopPublisher{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// OrderView is an order composed with its linked records and computed total.
type OrderView struct {
	Order       domain.Order
	UserName    string
	Reservation *domain.ReservationSummary
	Payment     *domain.Payment
	Total       decimal.Decimal
}

type CreateOrderInput struct {
	UserID        string
	ReservationID *string
	MenuItemIDs   []string
}

type UpdateOrderInput struct {
	UserID        string
	ReservationID *string
	// MenuItemIDs nil leaves the items alone.
	MenuItemIDs []string
	Status      domain.OrderStatus
	// Elevated grants item edits while the order is being prepared.
	Elevated bool
}

type ListOrdersFilter struct {
	UserID *string
	Status *domain.OrderStatus
	Limit  int
	Offset int
}

func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (OrderView, error) {
	refs, err := s.resolveRefs(ctx, in.UserID, in.ReservationID)
	if err != nil {
		return OrderView{}, err
	}
	if len(in.MenuItemIDs) == 0 {
		return OrderView{}, domain.ErrEmptyItems
	}

	menuIDs := canonicalIDs(in.MenuItemIDs)

	order := domain.Order{
		ID:            newID(),
		UserID:        in.UserID,
		ReservationID: in.ReservationID,
		Status:        domain.OrderStatusPending,
		CreatedAt:     s.clock.Now(),
	}

	err = s.orders.WithTx(ctx, func(txCtx context.Context) error {
		items, err := s.snapshotItems(txCtx, order.ID, menuIDs)
		if err != nil {
			return err
		}
		order.Items = items
		return s.orders.CreateOrder(txCtx, order)
	})
	if err != nil {
		s.forgetStaleUser(ctx, err, in.UserID)
		return OrderView{}, err
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.Int("items", len(order.Items)),
		slog.String("total", order.Total().StringFixed(2)),
	)
	publish(ctx, s.events, s.logger, Event{
		Type:        EventOrderCreated,
		AggregateID: order.ID,
		OccurredAt:  order.CreatedAt,
		Payload:     orderEventPayload(order),
	})

	return OrderView{
		Order:       order,
		UserName:    refs.userName,
		Reservation: refs.reservation,
		Total:       order.Total(),
	}, nil
}

func (s *OrderService) Update(ctx context.Context, id string, in UpdateOrderInput) (OrderView, error) {
	if _, err := domain.ParseOrderStatus(string(in.Status)); err != nil {
		return OrderView{}, err
	}
	refs, err := s.resolveRefs(ctx, in.UserID, in.ReservationID)
	if err != nil {
		return OrderView{}, err
	}

	menuIDs := canonicalIDs(in.MenuItemIDs)

	var (
		order       domain.Order
		prevStatus  domain.OrderStatus
		itemsEdited bool
	)
	err = s.orders.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.GetOrderForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		prevStatus = current.Status

		if !current.Status.CanTransitionTo(in.Status) {
			return domain.ErrInvalidTransition
		}

		if menuIDs != nil {
			requested, _ := domain.QuantitiesFromIDs(menuIDs)
			itemsEdited = !requested.Equal(current.Quantities())
		}
		if itemsEdited {
			if len(menuIDs) == 0 {
				return domain.ErrEmptyItems
			}
			if !itemsEditable(current.Status, in.Elevated) {
				return domain.ErrItemsNotEditable
			}
			items, err := s.snapshotItems(txCtx, current.ID, menuIDs)
			if err != nil {
				return err
			}
			if err := s.orders.ReplaceItems(txCtx, current.ID, items); err != nil {
				return err
			}
			current.Items = items
		}

		current.UserID = in.UserID
		current.ReservationID = in.ReservationID
		current.Status = in.Status
		if err := s.orders.UpdateOrder(txCtx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		s.forgetStaleUser(ctx, err, in.UserID)
		return OrderView{}, err
	}

	payment, err := s.payments.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return OrderView{}, err
	}

	s.logger.InfoContext(ctx, "order updated",
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
		slog.Bool("items_replaced", itemsEdited),
	)
	now := s.clock.Now()
	publish(ctx, s.events, s.logger, Event{
		Type:        EventOrderUpdated,
		AggregateID: order.ID,
		OccurredAt:  now,
		Payload:     orderEventPayload(order),
	})
	if prevStatus != order.Status {
		publish(ctx, s.events, s.logger, Event{
			Type:        EventOrderStatusChanged,
			AggregateID: order.ID,
			OccurredAt:  now,
			Payload: map[string]string{
				"from": string(prevStatus),
				"to":   string(order.Status),
			},
		})
	}

	return OrderView{
		Order:       order,
		UserName:    refs.userName,
		Reservation: refs.reservation,
		Payment:     payment,
		Total:       order.Total(),
	}, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (OrderView, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	return s.compose(ctx, order)
}

func (s *OrderService) List(ctx context.Context, filter ListOrdersFilter) ([]OrderView, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	orders, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		view, err := s.compose(ctx, order)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Delete hard-deletes an order and its items. Orders with a linked payment
// are kept so the settlement record never loses its order.
func (s *OrderService) Delete(ctx context.Context, id string) error {
	err := s.orders.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.orders.GetOrderForUpdate(txCtx, id); err != nil {
			return err
		}
		payment, err := s.payments.GetPaymentByOrderID(txCtx, id)
		if err != nil {
			return err
		}
		if payment != nil {
			return domain.ErrOrderHasPayment
		}
		return s.orders.DeleteOrder(txCtx, id)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "order deleted", slog.String("order_id", id))
	publish(ctx, s.events, s.logger, Event{
		Type:        EventOrderDeleted,
		AggregateID: id,
		OccurredAt:  s.clock.Now(),
	})
	return nil
}

// itemsEditable is the edit policy for replacing an order's items.
func itemsEditable(current domain.OrderStatus, elevated bool) bool {
	switch current {
	case domain.OrderStatusPending:
		return true
	case domain.OrderStatusPreparing:
		return elevated
	default:
		return false
	}
}

// snapshotItems prices the requested ids from the catalog and builds one
// item per distinct id, in first-requested order.
func (s *OrderService) snapshotItems(ctx context.Context, orderID string, ids []string) ([]domain.OrderItem, error) {
	quantities, distinct := domain.QuantitiesFromIDs(ids)

	priced, err := s.catalog.ResolveAvailable(ctx, distinct)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(priced))
	for _, p := range priced {
		prices[p.ID] = p.Price
	}

	var missing []string
	for _, id := range distinct {
		if _, ok := prices[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &domain.MissingMenuItemsError{IDs: missing}
	}

	items := make([]domain.OrderItem, 0, len(distinct))
	for _, id := range distinct {
		items = append(items, domain.OrderItem{
			ID:         newID(),
			OrderID:    orderID,
			MenuItemID: id,
			Quantity:   quantities[id],
			UnitPrice:  prices[id],
		})
	}
	return items, nil
}

type orderRefs struct {
	userName    string
	reservation *domain.ReservationSummary
}

// resolveRefs checks the user and the optional reservation concurrently.
func (s *OrderService) resolveRefs(ctx context.Context, userID string, reservationID *string) (orderRefs, error) {
	if userID == "" {
		return orderRefs{}, domain.ErrUserRequired
	}

	var refs orderRefs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		name, err := s.users.UserName(gctx, userID)
		if err != nil {
			return err
		}
		refs.userName = name
		return nil
	})
	if reservationID != nil {
		g.Go(func() error {
			res, err := s.reservations.Reservation(gctx, *reservationID)
			if err != nil {
				return err
			}
			refs.reservation = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return orderRefs{}, err
	}
	return refs, nil
}

// forgetStaleUser evicts a cached user name once the store reports the
// user gone, so the next lookup sees the deletion.
func (s *OrderService) forgetStaleUser(ctx context.Context, err error, userID string) {
	if !errors.Is(err, domain.ErrUserNotFound) {
		return
	}
	f, ok := s.users.(UserForgetter)
	if !ok {
		return
	}
	f.Forget(userID)
	s.logger.DebugContext(ctx, "evicted cached user", slog.String("user_id", userID))
}

// compose builds the read projection. A user or reservation removed after
// the order was placed leaves the corresponding field empty.
func (s *OrderService) compose(ctx context.Context, order domain.Order) (OrderView, error) {
	view := OrderView{Order: order, Total: order.Total()}

	name, err := s.users.UserName(ctx, order.UserID)
	switch {
	case err == nil:
		view.UserName = name
	case !errors.Is(err, domain.ErrNotFound):
		return OrderView{}, err
	}

	if order.ReservationID != nil {
		res, err := s.reservations.Reservation(ctx, *order.ReservationID)
		switch {
		case err == nil:
			view.Reservation = &res
		case !errors.Is(err, domain.ErrNotFound):
			return OrderView{}, err
		}
	}

	payment, err := s.payments.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return OrderView{}, err
	}
	view.Payment = payment
	return view, nil
}

func orderEventPayload(order domain.Order) map[string]any {
	return map[string]any{
		"user_id": order.UserID,
		"status":  order.Status,
		"items":   len(order.Items),
		"total":   order.Total().StringFixed(2),
	}
}
