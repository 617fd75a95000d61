package app

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bistrohq/orders-api/internal/domain"
)

// fakeStore backs both repositories. WithTx snapshots the maps and restores
// them when fn fails, so tests can assert nothing partial was committed.
type fakeStore struct {
	orders   map[string]domain.Order
	payments map[string]domain.Payment

	replaceCalls int
	failCreate   error
	failUpdate   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	orders := make(map[string]domain.Order, len(f.orders))
	for k, v := range f.orders {
		orders[k] = cloneOrder(v)
	}
	payments := make(map[string]domain.Payment, len(f.payments))
	for k, v := range f.payments {
		payments[k] = v
	}
	if err := fn(ctx); err != nil {
		f.orders = orders
		f.payments = payments
		return err
	}
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, order domain.Order) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string) (domain.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return f.GetOrder(ctx, id)
}

func (f *fakeStore) ListOrders(_ context.Context, filter ListOrdersFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, order := range f.orders {
		if filter.UserID != nil && order.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	return out, nil
}

func (f *fakeStore) UpdateOrder(_ context.Context, order domain.Order) error {
	if f.failUpdate != nil {
		return f.failUpdate
	}
	current, ok := f.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	current.UserID = order.UserID
	current.ReservationID = order.ReservationID
	current.Status = order.Status
	f.orders[order.ID] = current
	return nil
}

func (f *fakeStore) ReplaceItems(_ context.Context, orderID string, items []domain.OrderItem) error {
	f.replaceCalls++
	current, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	current.Items = append([]domain.OrderItem(nil), items...)
	f.orders[orderID] = current
	return nil
}

func (f *fakeStore) DeleteOrder(_ context.Context, id string) error {
	if _, ok := f.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeStore) CreatePayment(_ context.Context, payment domain.Payment) error {
	for _, p := range f.payments {
		if p.OrderID == payment.OrderID {
			return domain.ErrPaymentExists
		}
	}
	f.payments[payment.ID] = payment
	return nil
}

func (f *fakeStore) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPaymentByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.OrderID == orderID {
			copy := p
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPaymentByProviderOrderForUpdate(_ context.Context, provider, providerOrderID string) (domain.Payment, error) {
	for _, p := range f.payments {
		if p.Provider != nil && *p.Provider == provider && p.ProviderOrderID != nil && *p.ProviderOrderID == providerOrderID {
			return p, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (f *fakeStore) UpdatePayment(_ context.Context, payment domain.Payment) error {
	if _, ok := f.payments[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	f.payments[payment.ID] = payment
	return nil
}

func (f *fakeStore) DeletePayment(_ context.Context, id string) error {
	if _, ok := f.payments[id]; !ok {
		return domain.ErrPaymentNotFound
	}
	delete(f.payments, id)
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// fakeCatalog holds live catalog prices; unavailable ids are omitted from
// ResolveAvailable.
type fakeCatalog struct {
	prices      map[string]decimal.Decimal
	unavailable map[string]bool
	calls       int
}

func newFakeCatalog(prices map[string]string) *fakeCatalog {
	c := &fakeCatalog{
		prices:      make(map[string]decimal.Decimal, len(prices)),
		unavailable: make(map[string]bool),
	}
	for id, p := range prices {
		c.prices[id] = decimal.RequireFromString(p)
	}
	return c
}

func (c *fakeCatalog) ResolveAvailable(_ context.Context, ids []string) ([]domain.MenuItemPrice, error) {
	c.calls++
	var out []domain.MenuItemPrice
	for _, id := range ids {
		price, ok := c.prices[id]
		if !ok || c.unavailable[id] {
			continue
		}
		out = append(out, domain.MenuItemPrice{ID: id, Name: "item " + id, Price: price})
	}
	return out, nil
}

type fakeUsers map[string]string

func (u fakeUsers) UserName(_ context.Context, id string) (string, error) {
	name, ok := u[id]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return name, nil
}

// forgettingUsers records evictions on top of a fixed directory.
type forgettingUsers struct {
	fakeUsers
	forgotten []string
}

func (u *forgettingUsers) Forget(id string) {
	u.forgotten = append(u.forgotten, id)
}

type fakeReservations map[string]domain.ReservationSummary

func (r fakeReservations) Reservation(_ context.Context, id string) (domain.ReservationSummary, error) {
	res, ok := r[id]
	if !ok {
		return domain.ReservationSummary{}, domain.ErrReservationNotFound
	}
	return res, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeGateway struct {
	name string

	createResult domain.RemoteOrder
	createErr    error
	createReqs   []domain.RemoteOrderRequest

	status    domain.RemoteStatus
	statusErr error

	capture      domain.RemoteCapture
	captureErr   error
	captureCalls int
	statusCalls  int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateRemoteOrder(_ context.Context, req domain.RemoteOrderRequest) (domain.RemoteOrder, error) {
	g.createReqs = append(g.createReqs, req)
	return g.createResult, g.createErr
}

func (g *fakeGateway) RemoteOrderStatus(_ context.Context, _ string) (domain.RemoteStatus, error) {
	g.statusCalls++
	return g.status, g.statusErr
}

func (g *fakeGateway) CaptureRemoteOrder(ctx context.Context, _ string) (domain.RemoteCapture, error) {
	g.captureCalls++
	if g.captureErr != nil {
		return domain.RemoteCapture{}, g.captureErr
	}
	if err := ctx.Err(); err != nil {
		return domain.RemoteCapture{}, err
	}
	return g.capture, nil
}
