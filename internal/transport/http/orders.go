package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bistrohq/orders-api/internal/app"
	"github.com/bistrohq/orders-api/internal/domain"
)

// staffRoleHeader names the caller's staff role. Roles listed as elevated
// may edit the items of an order that is already being prepared.
const staffRoleHeader = "X-Staff-Role"

// OrderManager is the order surface the handlers need.
type OrderManager interface {
	Create(ctx context.Context, in app.CreateOrderInput) (app.OrderView, error)
	Update(ctx context.Context, id string, in app.UpdateOrderInput) (app.OrderView, error)
	Get(ctx context.Context, id string) (app.OrderView, error)
	List(ctx context.Context, filter app.ListOrdersFilter) ([]app.OrderView, error)
	Delete(ctx context.Context, id string) error
}

type OrderHandler struct {
	orders        OrderManager
	payments      PaymentManager
	elevatedRoles map[string]struct{}
	logger        *slog.Logger
}

func NewOrderHandler(orders OrderManager, payments PaymentManager, elevatedRoles []string, logger *slog.Logger) *OrderHandler {
	roles := make(map[string]struct{}, len(elevatedRoles))
	for _, role := range elevatedRoles {
		roles[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{orders: orders, payments: payments, elevatedRoles: roles, logger: logger}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/payment-intent", h.CreatePaymentIntent)
}

type createOrderRequest struct {
	UserID        string   `json:"user_id"`
	ReservationID *string  `json:"reservation_id"`
	MenuItemIDs   []string `json:"menu_item_ids"`
}

type updateOrderRequest struct {
	UserID        string  `json:"user_id"`
	ReservationID *string `json:"reservation_id"`
	// Absent or null keeps the current items.
	MenuItemIDs *[]string `json:"menu_item_ids"`
	Status      string    `json:"status"`
}

type paymentIntentRequest struct {
	Currency *string `json:"currency"`
}

type orderItemResponse struct {
	ID         string `json:"id"`
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	LineTotal  string `json:"line_total"`
}

type reservationResponse struct {
	ID          string    `json:"id"`
	ReservedFor time.Time `json:"reserved_for"`
	PartySize   int       `json:"party_size"`
}

type orderResponse struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	UserName      string               `json:"user_name,omitempty"`
	ReservationID *string              `json:"reservation_id"`
	Reservation   *reservationResponse `json:"reservation,omitempty"`
	Status        string               `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	Items         []orderItemResponse  `json:"items"`
	Total         string               `json:"total"`
	Payment       *paymentResponse     `json:"payment"`
}

type paymentIntentResponse struct {
	ApprovalURL   string `json:"approval_url"`
	RemoteOrderID string `json:"remote_order_id"`
	PaymentID     string `json:"payment_id"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	view, err := h.orders.Create(r.Context(), app.CreateOrderInput{
		UserID:        req.UserID,
		ReservationID: req.ReservationID,
		MenuItemIDs:   req.MenuItemIDs,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(view))
}

func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	in := app.UpdateOrderInput{
		UserID:        req.UserID,
		ReservationID: req.ReservationID,
		Status:        domain.OrderStatus(strings.ToLower(req.Status)),
		Elevated:      h.elevated(r),
	}
	if req.MenuItemIDs != nil {
		in.MenuItemIDs = *req.MenuItemIDs
		if in.MenuItemIDs == nil {
			in.MenuItemIDs = []string{}
		}
	}

	view, err := h.orders.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter app.ListOrdersFilter
	if v := q.Get("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := q.Get("status"); v != "" {
		status, err := domain.ParseOrderStatus(strings.ToLower(v))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidQuery, "unknown status")
			return
		}
		filter.Status = &status
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	views, err := h.orders.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]orderResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toOrderResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentIntentRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	intent, err := h.payments.CreateRemoteOrder(r.Context(), chi.URLParam(r, "id"), req.Currency)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentIntentResponse{
		ApprovalURL:   intent.ApprovalURL,
		RemoteOrderID: intent.RemoteOrderID,
		PaymentID:     intent.Payment.ID,
	})
}

func (h *OrderHandler) elevated(r *http.Request) bool {
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(staffRoleHeader)))
	if role == "" {
		return false
	}
	_, ok := h.elevatedRoles[role]
	return ok
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, codeInvalidQuery, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func toOrderResponse(v app.OrderView) orderResponse {
	resp := orderResponse{
		ID:            v.Order.ID,
		UserID:        v.Order.UserID,
		UserName:      v.UserName,
		ReservationID: v.Order.ReservationID,
		Status:        string(v.Order.Status),
		CreatedAt:     v.Order.CreatedAt,
		Items:         make([]orderItemResponse, 0, len(v.Order.Items)),
		Total:         v.Total.StringFixed(2),
	}
	for _, item := range v.Order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:         item.ID,
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.StringFixed(2),
			LineTotal:  item.LineTotal().StringFixed(2),
		})
	}
	if v.Reservation != nil {
		resp.Reservation = &reservationResponse{
			ID:          v.Reservation.ID,
			ReservedFor: v.Reservation.ReservedFor,
			PartySize:   v.Reservation.PartySize,
		}
	}
	if v.Payment != nil {
		p := toPaymentResponse(*v.Payment)
		resp.Payment = &p
	}
	return resp
}
