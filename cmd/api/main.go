package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bistrohq/orders-api/internal/app"
	"github.com/bistrohq/orders-api/internal/clock"
	"github.com/bistrohq/orders-api/internal/config"
	"github.com/bistrohq/orders-api/internal/directory"
	"github.com/bistrohq/orders-api/internal/gateway/paypal"
	"github.com/bistrohq/orders-api/internal/logging"
	"github.com/bistrohq/orders-api/internal/messaging"
	"github.com/bistrohq/orders-api/internal/storage/postgres"
	transporthttp "github.com/bistrohq/orders-api/internal/transport/http"
	"github.com/bistrohq/orders-api/migrations"
)

const (
	serviceName   = "orders-api"
	userCacheSize = 1024
)

func main() {
	envPath, envErr := config.LoadEnvFile()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(serviceName, os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	switch {
	case envErr != nil:
		logger.Warn("failed to load .env", slog.Any("error", envErr))
	case envPath == "":
		logger.Warn(".env not found in current or parent directories")
	default:
		logger.Info("loaded env file", slog.String("path", envPath))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	applied, err := migrations.Apply(startupCtx, pool)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, name := range applied {
		logger.Info("applied migration", slog.String("name", name))
	}

	orderOpts := []app.OrderServiceOption{app.WithOrderLogger(logger)}
	paymentOpts := []app.PaymentServiceOption{
		app.WithDefaultCurrency(cfg.DefaultCurrency),
		app.WithRedirectURLs(cfg.PaymentReturnURL, cfg.PaymentCancelURL),
		app.WithGatewayTimeout(cfg.GatewayTimeout),
		app.WithPaymentLogger(logger),
	}

	if cfg.AMQPURL != "" {
		conn, err := messaging.Dial(startupCtx, cfg.AMQPURL, cfg.EventsExchange, logger)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logger.Warn("close broker connection", slog.Any("error", err))
			}
		}()
		events := messaging.NewPublisher(conn, serviceName)
		orderOpts = append(orderOpts, app.WithOrderEvents(events))
		paymentOpts = append(paymentOpts, app.WithPaymentEvents(events))
		logger.Info("publishing events", slog.String("exchange", cfg.EventsExchange))
	}

	clk := clock.NewSystem()
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	dirRepo := postgres.NewDirectoryRepository(pool)
	users := directory.NewCachedUsers(dirRepo, userCacheSize, cfg.UserCacheTTL)

	orderSvc := app.NewOrderService(orderRepo, paymentRepo, dirRepo, users, dirRepo, clk, orderOpts...)

	if cfg.PayPal.Enabled() {
		gw, err := paypal.New(paypal.Config{
			BaseURL:      cfg.PayPal.BaseURL,
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Clock:        clk,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("paypal client: %w", err)
		}
		paymentOpts = append(paymentOpts, app.WithGateway(gw))
	}
	paymentSvc := app.NewPaymentService(paymentRepo, orderRepo, clk, paymentOpts...)

	handler := transporthttp.NewRouter(transporthttp.RouterConfig{
		Orders:        orderSvc,
		Payments:      paymentSvc,
		DB:            pool,
		CORSOrigins:   cfg.CORSOrigins,
		ElevatedRoles: cfg.ElevatedRoles,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", slog.String("addr", server.Addr))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
	return nil
}
