package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bistrohq/orders-api/internal/clock"
	"github.com/bistrohq/orders-api/internal/domain"
)

// FallbackCurrency applies when neither the request nor configuration names one.
const FallbackCurrency = "USD"

type PaymentService struct {
	payments        PaymentRepository
	orders          OrderReader
	gateway         PaymentGateway
	clock           clock.Clock
	events          EventPublisher
	logger          *slog.Logger
	defaultCurrency string
	returnURL       string
	cancelURL       string
	gatewayTimeout  time.Duration
}

type PaymentServiceOption func(*PaymentService)

// WithGateway enables remote payment orders through gw.
func WithGateway(gw PaymentGateway) PaymentServiceOption {
	return func(s *PaymentService) {
		s.gateway = gw
	}
}

func WithDefaultCurrency(code string) PaymentServiceOption {
	return func(s *PaymentService) {
		s.defaultCurrency = strings.ToUpper(strings.TrimSpace(code))
	}
}

// WithRedirectURLs sets where the provider sends the payer after approval
// or cancellation.
func WithRedirectURLs(returnURL, cancelURL string) PaymentServiceOption {
	return func(s *PaymentService) {
		s.returnURL = returnURL
		s.cancelURL = cancelURL
	}
}

// WithGatewayTimeout bounds each gateway call on top of the caller's context.
func WithGatewayTimeout(d time.Duration) PaymentServiceOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

func WithPaymentEvents(pub EventPublisher) PaymentServiceOption {
	return func(s *PaymentService) {
		if pub != nil {
			s.events = pub
		}
	}
}

func WithPaymentLogger(logger *slog.Logger) PaymentServiceOption {
	return func(s *PaymentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewPaymentService(payments PaymentRepository, orders OrderReader, clk clock.Clock, opts ...PaymentServiceOption) *PaymentService {
	svc := &PaymentService{
		payments:       payments,
		orders:         orders,
		clock:          clk,
		events:         noopPublisher{},
		logger:         slog.Default(),
		gatewayTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type PaymentInput struct {
	OrderID  string
	Amount   decimal.Decimal
	Method   domain.PaymentMethod
	Status   domain.PaymentStatus
	PaidAt   *time.Time
	Currency string
}

func (in PaymentInput) validate() error {
	if !in.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if _, err := domain.ParsePaymentMethod(string(in.Method)); err != nil {
		return err
	}
	_, err := domain.ParsePaymentStatus(string(in.Status))
	return err
}

// Create records a payment taken outside the gateway flow (cash, card terminal).
func (s *PaymentService) Create(ctx context.Context, in PaymentInput) (domain.Payment, error) {
	if err := in.validate(); err != nil {
		return domain.Payment{}, err
	}
	currency, err := s.resolveCurrency(&in.Currency)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := s.orders.GetOrder(ctx, in.OrderID); err != nil {
		return domain.Payment{}, err
	}

	payment := domain.Payment{
		ID:       newID(),
		OrderID:  in.OrderID,
		Amount:   in.Amount,
		Method:   in.Method,
		Status:   in.Status,
		PaidAt:   in.PaidAt,
		Currency: currency,
	}
	if payment.Status == domain.PaymentStatusCompleted && payment.PaidAt == nil {
		now := s.clock.Now()
		payment.PaidAt = &now
	}
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (s *PaymentService) Get(ctx context.Context, id string) (domain.Payment, error) {
	return s.payments.GetPayment(ctx, id)
}

// Update overwrites the manual fields of a payment. Provider linkage is
// owned by the gateway flow and left untouched.
func (s *PaymentService) Update(ctx context.Context, id string, in PaymentInput) (domain.Payment, error) {
	if err := in.validate(); err != nil {
		return domain.Payment{}, err
	}
	currency, err := s.resolveCurrency(&in.Currency)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := s.orders.GetOrder(ctx, in.OrderID); err != nil {
		return domain.Payment{}, err
	}

	var result domain.Payment
	err = s.payments.WithTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.GetPayment(txCtx, id)
		if err != nil {
			return err
		}
		payment.OrderID = in.OrderID
		payment.Amount = in.Amount
		payment.Method = in.Method
		payment.Status = in.Status
		payment.PaidAt = in.PaidAt
		if payment.Status == domain.PaymentStatusCompleted && payment.PaidAt == nil {
			now := s.clock.Now()
			payment.PaidAt = &now
		}
		payment.Currency = currency
		if err := s.payments.UpdatePayment(txCtx, payment); err != nil {
			return err
		}
		result = payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return result, nil
}

func (s *PaymentService) Delete(ctx context.Context, id string) error {
	if err := s.payments.DeletePayment(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "payment deleted", slog.String("payment_id", id))
	return nil
}

type PaymentIntent struct {
	ApprovalURL   string
	RemoteOrderID string
	Payment       domain.Payment
}

// CreateRemoteOrder opens a remote payment order for the order's current
// items and records it as a pending payment.
func (s *PaymentService) CreateRemoteOrder(ctx context.Context, orderID string, currency *string) (PaymentIntent, error) {
	if s.gateway == nil {
		return PaymentIntent{}, domain.ErrGatewayUnavailable
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	amount := order.Total()
	if !amount.IsPositive() {
		return PaymentIntent{}, domain.ErrInvalidAmount
	}
	code, err := s.resolveCurrency(currency)
	if err != nil {
		return PaymentIntent{}, err
	}

	existing, err := s.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if existing != nil {
		return PaymentIntent{}, domain.ErrPaymentExists
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	remote, err := s.gateway.CreateRemoteOrder(gwCtx, domain.RemoteOrderRequest{
		Amount:      amount,
		Currency:    code,
		ReturnURL:   s.returnURL,
		CancelURL:   s.cancelURL,
		Description: "Order " + order.ID,
		ReferenceID: order.ID,
	})
	cancel()
	if err != nil {
		s.logger.ErrorContext(ctx, "remote order create failed",
			slog.String("order_id", order.ID),
			slog.String("provider", s.gateway.Name()),
			slog.Any("error", err),
		)
		return PaymentIntent{}, err
	}

	provider := s.gateway.Name()
	remoteID := remote.ID
	payment := domain.Payment{
		ID:              newID(),
		OrderID:         order.ID,
		Amount:          amount,
		Method:          domain.PaymentMethodExternalProvider,
		Status:          domain.PaymentStatusPending,
		Currency:        code,
		Provider:        &provider,
		ProviderOrderID: &remoteID,
	}
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		return PaymentIntent{}, err
	}

	s.logger.InfoContext(ctx, "remote order created",
		slog.String("order_id", order.ID),
		slog.String("payment_id", payment.ID),
		slog.String("remote_order_id", remoteID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("currency", code),
	)
	publish(ctx, s.events, s.logger, Event{
		Type:        EventPaymentCreated,
		AggregateID: payment.ID,
		OccurredAt:  s.clock.Now(),
		Payload:     paymentEventPayload(payment),
	})

	return PaymentIntent{
		ApprovalURL:   remote.ApprovalURL,
		RemoteOrderID: remoteID,
		Payment:       payment,
	}, nil
}

// CaptureRemoteOrder settles an approved remote order. Repeating the call
// after a successful capture returns the stored payment without contacting
// the gateway. The payment row stays locked for the duration so concurrent
// captures of the same remote order serialize.
func (s *PaymentService) CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (domain.Payment, error) {
	if s.gateway == nil {
		return domain.Payment{}, domain.ErrGatewayUnavailable
	}
	provider := s.gateway.Name()

	var (
		result   domain.Payment
		captured bool
	)
	err := s.payments.WithTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.GetPaymentByProviderOrderForUpdate(txCtx, provider, remoteOrderID)
		if err != nil {
			return err
		}
		if payment.Captured() {
			result = payment
			return nil
		}

		status, err := s.remoteStatus(txCtx, remoteOrderID)
		if err != nil {
			return err
		}
		// Completed remotely but not locally means an earlier capture
		// committed at the provider and was lost here; capturing again with
		// the same idempotency key returns the original capture.
		if status.State != domain.RemoteStateApproved && status.State != domain.RemoteStateCompleted {
			return &domain.RemoteStatusError{RemoteOrderID: remoteOrderID, Status: status.Raw}
		}

		capture, err := s.capture(txCtx, remoteOrderID)
		if err != nil {
			return err
		}

		// Only a capture with an id and a positive amount settles the payment.
		if capture.CaptureID == "" || !capture.Amount.IsPositive() {
			return &domain.GatewayError{
				Provider: provider,
				Op:       "capture order",
				DebugID:  capture.DebugID,
				Err:      errors.New("incomplete capture result"),
			}
		}

		if !payment.Amount.Equal(capture.Amount) {
			s.logger.WarnContext(ctx, "captured amount differs from recorded amount",
				slog.String("payment_id", payment.ID),
				slog.String("recorded", payment.Amount.StringFixed(2)),
				slog.String("captured", capture.Amount.StringFixed(2)),
			)
			payment.Amount = capture.Amount
		}
		captureID := capture.CaptureID
		payment.ProviderCaptureID = &captureID
		if capture.Status.State == domain.RemoteStateCompleted {
			now := s.clock.Now()
			payment.Status = domain.PaymentStatusCompleted
			payment.PaidAt = &now
		} else {
			payment.Status = domain.PaymentStatusFailed
			payment.PaidAt = nil
		}

		if err := s.payments.UpdatePayment(txCtx, payment); err != nil {
			return err
		}
		result = payment
		captured = true
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "capture interrupted, payment left pending",
				slog.String("remote_order_id", remoteOrderID),
				slog.Any("error", err),
			)
		}
		return domain.Payment{}, err
	}
	if !captured {
		return result, nil
	}

	evType := EventPaymentCaptured
	if result.Status != domain.PaymentStatusCompleted {
		evType = EventPaymentFailed
	}
	s.logger.InfoContext(ctx, "remote order captured",
		slog.String("payment_id", result.ID),
		slog.String("remote_order_id", remoteOrderID),
		slog.String("status", string(result.Status)),
		slog.String("amount", result.Amount.StringFixed(2)),
	)
	publish(ctx, s.events, s.logger, Event{
		Type:        evType,
		AggregateID: result.ID,
		OccurredAt:  s.clock.Now(),
		Payload:     paymentEventPayload(result),
	})
	return result, nil
}

// CaptureByReturn handles the payer coming back from the provider's approval
// page, where token is the remote order id.
func (s *PaymentService) CaptureByReturn(ctx context.Context, token string) (domain.Payment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Payment{}, domain.ErrInvalidID
	}
	return s.CaptureRemoteOrder(ctx, token)
}

func (s *PaymentService) remoteStatus(ctx context.Context, remoteOrderID string) (domain.RemoteStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.RemoteOrderStatus(ctx, remoteOrderID)
}

func (s *PaymentService) capture(ctx context.Context, remoteOrderID string) (domain.RemoteCapture, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.CaptureRemoteOrder(ctx, remoteOrderID)
}

func (s *PaymentService) resolveCurrency(requested *string) (string, error) {
	code := ""
	if requested != nil {
		code = strings.TrimSpace(*requested)
	}
	if code == "" {
		code = s.defaultCurrency
	}
	if code == "" {
		code = FallbackCurrency
	}
	return normalizeCurrency(code)
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", domain.ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCurrency
		}
	}
	return code, nil
}

func paymentEventPayload(p domain.Payment) map[string]any {
	payload := map[string]any{
		"order_id": p.OrderID,
		"amount":   p.Amount.StringFixed(2),
		"currency": p.Currency,
		"method":   p.Method,
		"status":   p.Status,
	}
	if p.ProviderOrderID != nil {
		payload["provider_order_id"] = *p.ProviderOrderID
	}
	return payload
}
