package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bistrohq/orders-api/internal/app"
	"github.com/bistrohq/orders-api/internal/domain"
)

// PaymentManager is the payment surface the handlers need.
type PaymentManager interface {
	Create(ctx context.Context, in app.PaymentInput) (domain.Payment, error)
	Get(ctx context.Context, id string) (domain.Payment, error)
	Update(ctx context.Context, id string, in app.PaymentInput) (domain.Payment, error)
	Delete(ctx context.Context, id string) error
	CreateRemoteOrder(ctx context.Context, orderID string, currency *string) (app.PaymentIntent, error)
	CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (domain.Payment, error)
	CaptureByReturn(ctx context.Context, token string) (domain.Payment, error)
}

type PaymentHandler struct {
	payments PaymentManager
	logger   *slog.Logger
}

func NewPaymentHandler(payments PaymentManager, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{payments: payments, logger: logger}
}

func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/return", h.Return)
	r.Get("/cancel", h.Cancel)
	r.Post("/remote/{remoteOrderId}/capture", h.Capture)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

type paymentRequest struct {
	OrderID  string          `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
	Status   string          `json:"status"`
	PaidAt   *time.Time      `json:"paid_at"`
	Currency string          `json:"currency"`
}

func (req paymentRequest) input() app.PaymentInput {
	return app.PaymentInput{
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		Method:   domain.PaymentMethod(strings.ToLower(req.Method)),
		Status:   domain.PaymentStatus(strings.ToLower(req.Status)),
		PaidAt:   req.PaidAt,
		Currency: req.Currency,
	}
}

type paymentResponse struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Method            string     `json:"method"`
	Status            string     `json:"status"`
	PaidAt            *time.Time `json:"paid_at"`
	Provider          *string    `json:"provider,omitempty"`
	ProviderOrderID   *string    `json:"provider_order_id,omitempty"`
	ProviderCaptureID *string    `json:"provider_capture_id,omitempty"`
}

func toPaymentResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		OrderID:           p.OrderID,
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		Method:            string(p.Method),
		Status:            string(p.Status),
		PaidAt:            p.PaidAt,
		Provider:          p.Provider,
		ProviderOrderID:   p.ProviderOrderID,
		ProviderCaptureID: p.ProviderCaptureID,
	}
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	p, err := h.payments.Create(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *PaymentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	p, err := h.payments.Update(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *PaymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.payments.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Capture settles an approved remote order. Repeating it after success
// returns the same payment with 200.
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.CaptureRemoteOrder(r.Context(), chi.URLParam(r, "remoteOrderId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// Return is where the provider redirects the payer after approval.
func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, codeInvalidQuery, "token is required")
		return
	}
	p, err := h.payments.CaptureByReturn(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// Cancel acknowledges a payer abandoning approval; the payment stays pending.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "payer cancelled approval",
		slog.String("remote_order_id", r.URL.Query().Get("token")),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
