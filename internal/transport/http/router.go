package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Orders        OrderManager
	Payments      PaymentManager
	DB            Pinger
	CORSOrigins   []string
	ElevatedRoles []string
	Logger        *slog.Logger
}

// NewRouter wires every route behind request id, logging, panic recovery
// and CORS.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", HealthHandler(cfg.DB))

	orders := NewOrderHandler(cfg.Orders, cfg.Payments, cfg.ElevatedRoles, logger)
	r.Route("/orders", orders.RegisterRoutes)

	payments := NewPaymentHandler(cfg.Payments, logger)
	r.Route("/payments", payments.RegisterRoutes)

	return r
}
