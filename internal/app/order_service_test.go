package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bistrohq/orders-api/internal/clock"
	"github.com/bistrohq/orders-api/internal/domain"
)

type orderFixture struct {
	svc     *OrderService
	store   *fakeStore
	catalog *fakeCatalog
	events  *recordingPublisher
}

func newOrderFixture(now time.Time) orderFixture {
	store := newFakeStore()
	catalog := newFakeCatalog(map[string]string{
		"item-a": "5.00",
		"item-b": "10.00",
		"item-c": "7.25",
	})
	events := &recordingPublisher{}
	users := fakeUsers{"user-1": "Ada", "user-2": "Grace"}
	reservations := fakeReservations{
		"res-1": {ID: "res-1", ReservedFor: now.Add(2 * time.Hour), PartySize: 4},
	}
	svc := NewOrderService(store, store, catalog, users, reservations, clock.NewManual(now), WithOrderEvents(events))
	return orderFixture{svc: svc, store: store, catalog: catalog, events: events}
}

func strPtr(s string) *string { return &s }

func TestOrderService_Create(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)

	t.Run("repeated ids encode quantity", func(t *testing.T) {
		fx := newOrderFixture(now)

		view, err := fx.svc.Create(context.Background(), CreateOrderInput{
			UserID:        "user-1",
			ReservationID: strPtr("res-1"),
			MenuItemIDs:   []string{"item-a", "item-a", "item-b"},
		})
		require.NoError(t, err)

		order := view.Order
		assert.NotEmpty(t, order.ID)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.Equal(t, now, order.CreatedAt)
		require.Len(t, order.Items, 2)
		assert.Equal(t, "item-a", order.Items[0].MenuItemID)
		assert.Equal(t, 2, order.Items[0].Quantity)
		assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))
		assert.Equal(t, "item-b", order.Items[1].MenuItemID)
		assert.Equal(t, 1, order.Items[1].Quantity)
		assert.True(t, view.Total.Equal(decimal.RequireFromString("20.00")), "total %s", view.Total)
		assert.Equal(t, "Ada", view.UserName)
		require.NotNil(t, view.Reservation)
		assert.Equal(t, 4, view.Reservation.PartySize)

		stored, ok := fx.store.orders[order.ID]
		require.True(t, ok, "order persisted")
		assert.Len(t, stored.Items, 2)
		assert.Equal(t, []string{EventOrderCreated}, fx.events.types())
	})

	t.Run("unknown user", func(t *testing.T) {
		fx := newOrderFixture(now)
		_, err := fx.svc.Create(context.Background(), CreateOrderInput{
			UserID:      "nobody",
			MenuItemIDs: []string{"item-a"},
		})
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, fx.store.orders)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		fx := newOrderFixture(now)
		_, err := fx.svc.Create(context.Background(), CreateOrderInput{
			UserID:        "user-1",
			ReservationID: strPtr("res-404"),
			MenuItemIDs:   []string{"item-a"},
		})
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})

	t.Run("empty item list", func(t *testing.T) {
		fx := newOrderFixture(now)
		_, err := fx.svc.Create(context.Background(), CreateOrderInput{UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrEmptyItems)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("missing and unavailable items fail the whole order", func(t *testing.T) {
		fx := newOrderFixture(now)
		fx.catalog.unavailable["item-b"] = true

		_, err := fx.svc.Create(context.Background(), CreateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-z", "item-a", "item-b"},
		})
		var missing *domain.MissingMenuItemsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"item-b", "item-z"}, missing.IDs)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, fx.store.orders)
		assert.Empty(t, fx.events.types())
	})

	t.Run("publish failure does not fail create", func(t *testing.T) {
		fx := newOrderFixture(now)
		fx.events.err = errors.New("broker down")

		_, err := fx.svc.Create(context.Background(), CreateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-c"},
		})
		require.NoError(t, err)
		assert.Len(t, fx.store.orders, 1)
	})
}

func TestOrderService_PriceSnapshot(t *testing.T) {
	t.Parallel()

	fx := newOrderFixture(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	created, err := fx.svc.Create(ctx, CreateOrderInput{
		UserID:      "user-1",
		MenuItemIDs: []string{"item-a", "item-a", "item-b"},
	})
	require.NoError(t, err)

	fx.catalog.prices["item-a"] = decimal.RequireFromString("99.00")

	got, err := fx.svc.Get(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("20.00")), "total %s", got.Total)

	// A status-only update keeps the snapshot too.
	updated, err := fx.svc.Update(ctx, created.Order.ID, UpdateOrderInput{
		UserID:      "user-1",
		MenuItemIDs: []string{"item-b", "item-a", "item-a"},
		Status:      domain.OrderStatusPreparing,
	})
	require.NoError(t, err)
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("20.00")), "total %s", updated.Total)
}

func TestOrderService_Update(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 2, 19, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seed := func(fx orderFixture, status domain.OrderStatus) domain.Order {
		view, err := fx.svc.Create(ctx, CreateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-a", "item-a", "item-b"},
		})
		require.NoError(t, err)
		order := fx.store.orders[view.Order.ID]
		order.Status = status
		fx.store.orders[order.ID] = order
		return order
	}

	t.Run("illegal transition leaves order unchanged", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusCompleted)

		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID: "user-2",
			Status: domain.OrderStatusPreparing,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.ErrorIs(t, err, domain.ErrValidation)

		stored := fx.store.orders[order.ID]
		assert.Equal(t, domain.OrderStatusCompleted, stored.Status)
		assert.Equal(t, "user-1", stored.UserID)
	})

	t.Run("cancel from ready is allowed", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusReady)

		view, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID: "user-1",
			Status: domain.OrderStatusCancelled,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, view.Order.Status)
		assert.Contains(t, fx.events.types(), EventOrderStatusChanged)
	})

	t.Run("same item set skips replacement and edit policy", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusReady)
		itemIDs := []string{order.Items[0].ID, order.Items[1].ID}

		view, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-2",
			MenuItemIDs: []string{"item-b", "item-a", "item-a"},
			Status:      domain.OrderStatusCompleted,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, fx.store.replaceCalls)
		assert.Equal(t, domain.OrderStatusCompleted, view.Order.Status)
		assert.Equal(t, "Grace", view.UserName)

		stored := fx.store.orders[order.ID]
		assert.Equal(t, itemIDs, []string{stored.Items[0].ID, stored.Items[1].ID})
		assert.Equal(t, "user-2", stored.UserID)
	})

	t.Run("nil item list leaves items alone", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPending)

		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID: "user-1",
			Status: domain.OrderStatusPreparing,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, fx.store.replaceCalls)
		assert.Len(t, fx.store.orders[order.ID].Items, 2)
	})

	t.Run("pending order items are replaced wholesale", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPending)

		view, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-c", "item-c", "item-c"},
			Status:      domain.OrderStatusPending,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, fx.store.replaceCalls)
		require.Len(t, view.Order.Items, 1)
		assert.Equal(t, "item-c", view.Order.Items[0].MenuItemID)
		assert.Equal(t, 3, view.Order.Items[0].Quantity)
		assert.True(t, view.Total.Equal(decimal.RequireFromString("21.75")), "total %s", view.Total)
	})

	t.Run("preparing order needs elevation to edit items", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPreparing)

		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-a"},
			Status:      domain.OrderStatusPreparing,
		})
		assert.ErrorIs(t, err, domain.ErrItemsNotEditable)
		assert.ErrorIs(t, err, domain.ErrInvalidOperation)
		assert.Len(t, fx.store.orders[order.ID].Items, 2)

		view, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-a"},
			Status:      domain.OrderStatusPreparing,
			Elevated:    true,
		})
		require.NoError(t, err)
		require.Len(t, view.Order.Items, 1)
		assert.Equal(t, 1, view.Order.Items[0].Quantity)
	})

	t.Run("ready order items are locked even when elevated", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusReady)

		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-a"},
			Status:      domain.OrderStatusReady,
			Elevated:    true,
		})
		assert.ErrorIs(t, err, domain.ErrItemsNotEditable)
	})

	t.Run("empty item list is rejected", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPending)

		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{},
			Status:      domain.OrderStatusPending,
		})
		assert.ErrorIs(t, err, domain.ErrEmptyItems)
		assert.Len(t, fx.store.orders[order.ID].Items, 2)
	})

	t.Run("failure after replacement rolls back items", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPending)
		fx.store.failUpdate = errors.New("connection reset")

		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"item-c"},
			Status:      domain.OrderStatusPending,
		})
		require.Error(t, err)
		assert.Equal(t, 1, fx.store.replaceCalls)

		stored := fx.store.orders[order.ID]
		require.Len(t, stored.Items, 2)
		assert.Equal(t, "item-a", stored.Items[0].MenuItemID)
	})

	t.Run("missing order", func(t *testing.T) {
		fx := newOrderFixture(now)
		_, err := fx.svc.Update(ctx, "missing", UpdateOrderInput{
			UserID: "user-1",
			Status: domain.OrderStatusPending,
		})
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("unknown status", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPending)
		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID: "user-1",
			Status: "served",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	})

	t.Run("unknown user", func(t *testing.T) {
		fx := newOrderFixture(now)
		order := seed(fx, domain.OrderStatusPending)
		_, err := fx.svc.Update(ctx, order.ID, UpdateOrderInput{
			UserID: "ghost",
			Status: domain.OrderStatusPending,
		})
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestOrderService_GetListDelete(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 3, 20, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("view includes payment summary", func(t *testing.T) {
		fx := newOrderFixture(now)
		created, err := fx.svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"item-b"}})
		require.NoError(t, err)
		fx.store.payments["pay-1"] = domain.Payment{
			ID:      "pay-1",
			OrderID: created.Order.ID,
			Amount:  decimal.RequireFromString("10.00"),
			Method:  domain.PaymentMethodCash,
			Status:  domain.PaymentStatusCompleted,
		}

		view, err := fx.svc.Get(ctx, created.Order.ID)
		require.NoError(t, err)
		require.NotNil(t, view.Payment)
		assert.Equal(t, "pay-1", view.Payment.ID)
		assert.Equal(t, "Ada", view.UserName)
	})

	t.Run("get missing", func(t *testing.T) {
		fx := newOrderFixture(now)
		_, err := fx.svc.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("list filters by user", func(t *testing.T) {
		fx := newOrderFixture(now)
		for _, user := range []string{"user-1", "user-2", "user-1"} {
			_, err := fx.svc.Create(ctx, CreateOrderInput{UserID: user, MenuItemIDs: []string{"item-a"}})
			require.NoError(t, err)
		}

		views, err := fx.svc.List(ctx, ListOrdersFilter{UserID: strPtr("user-1")})
		require.NoError(t, err)
		assert.Len(t, views, 2)
		for _, v := range views {
			assert.Equal(t, "Ada", v.UserName)
		}
	})

	t.Run("delete", func(t *testing.T) {
		fx := newOrderFixture(now)
		created, err := fx.svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"item-a"}})
		require.NoError(t, err)

		require.NoError(t, fx.svc.Delete(ctx, created.Order.ID))
		assert.Empty(t, fx.store.orders)
		assert.ErrorIs(t, fx.svc.Delete(ctx, created.Order.ID), domain.ErrOrderNotFound)
		assert.Contains(t, fx.events.types(), EventOrderDeleted)
	})

	t.Run("delete refused while a payment is linked", func(t *testing.T) {
		fx := newOrderFixture(now)
		created, err := fx.svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"item-a"}})
		require.NoError(t, err)
		fx.store.payments["pay-1"] = domain.Payment{ID: "pay-1", OrderID: created.Order.ID}

		err = fx.svc.Delete(ctx, created.Order.ID)
		assert.ErrorIs(t, err, domain.ErrOrderHasPayment)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Len(t, fx.store.orders, 1)
	})
}

func TestOrderService_MenuIDCase(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	const soup = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

	newFixture := func() orderFixture {
		fx := newOrderFixture(now)
		fx.catalog.prices[soup] = decimal.RequireFromString("3.50")
		return fx
	}

	t.Run("upper-case uuid resolves and groups with lower-case", func(t *testing.T) {
		fx := newFixture()

		view, err := fx.svc.Create(ctx, CreateOrderInput{
			UserID:      "user-1",
			MenuItemIDs: []string{"7C9E6679-7425-40DE-944B-E07FC1F90AE7", soup},
		})
		require.NoError(t, err)
		require.Len(t, view.Order.Items, 1)
		assert.Equal(t, soup, view.Order.Items[0].MenuItemID)
		assert.Equal(t, 2, view.Order.Items[0].Quantity)
		assert.True(t, view.Total.Equal(decimal.RequireFromString("7.00")), "total %s", view.Total)
	})

	t.Run("same items in another case are not an edit", func(t *testing.T) {
		fx := newFixture()
		view, err := fx.svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{soup}})
		require.NoError(t, err)
		_, err = fx.svc.Update(ctx, view.Order.ID, UpdateOrderInput{
			UserID: "user-1",
			Status: domain.OrderStatusPreparing,
		})
		require.NoError(t, err)

		_, err = fx.svc.Update(ctx, view.Order.ID, UpdateOrderInput{
			UserID:      "user-1",
			Status:      domain.OrderStatusPreparing,
			MenuItemIDs: []string{"7C9E6679-7425-40DE-944B-E07FC1F90AE7"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, fx.store.replaceCalls)
	})

	t.Run("malformed id is still missing", func(t *testing.T) {
		fx := newFixture()

		_, err := fx.svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"7C9E6679-XXXX"}})
		var missing *domain.MissingMenuItemsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"7C9E6679-XXXX"}, missing.IDs)
	})
}

func TestCanonicalIDs(t *testing.T) {
	assert.Nil(t, canonicalIDs(nil))
	assert.Equal(t, []string{}, canonicalIDs([]string{}))
	assert.Equal(t,
		[]string{"7c9e6679-7425-40de-944b-e07fc1f90ae7", "item-a"},
		canonicalIDs([]string{"7C9E6679-7425-40DE-944B-E07FC1F90AE7", "item-a"}),
	)
}

func TestOrderService_ForgetsDeletedUser(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	newSvc := func() (*OrderService, *fakeStore, *forgettingUsers) {
		store := newFakeStore()
		catalog := newFakeCatalog(map[string]string{"item-a": "5.00"})
		users := &forgettingUsers{fakeUsers: fakeUsers{"user-1": "Ada"}}
		svc := NewOrderService(store, store, catalog, users, fakeReservations{}, clock.NewManual(now))
		return svc, store, users
	}

	t.Run("create", func(t *testing.T) {
		svc, store, users := newSvc()
		store.failCreate = domain.ErrUserNotFound

		_, err := svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"item-a"}})
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		assert.Equal(t, []string{"user-1"}, users.forgotten)
	})

	t.Run("update", func(t *testing.T) {
		svc, store, users := newSvc()
		view, err := svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"item-a"}})
		require.NoError(t, err)
		store.failUpdate = domain.ErrUserNotFound

		_, err = svc.Update(ctx, view.Order.ID, UpdateOrderInput{UserID: "user-1", Status: domain.OrderStatusPending})
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		assert.Equal(t, []string{"user-1"}, users.forgotten)
	})

	t.Run("other failures keep the cache", func(t *testing.T) {
		svc, store, users := newSvc()
		store.failCreate = errors.New("connection reset")

		_, err := svc.Create(ctx, CreateOrderInput{UserID: "user-1", MenuItemIDs: []string{"item-a"}})
		require.Error(t, err)
		assert.Empty(t, users.forgotten)
	})
}
