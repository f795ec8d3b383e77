package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pointswap/native/exchange"
	"pointswap/observability"
	"pointswap/services/pointswapd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
}

// Server hosts the exchange, admin, and health endpoints for pointswapd.
type Server struct {
	cfg     Config
	engine  *exchange.Engine
	audit   *storage.Audit
	admin   exchange.Address
	auth    *Authenticator
	logger  *slog.Logger
	metrics *observability.ExchangeMetrics
}

// New constructs a new HTTP server.
func New(cfg Config, engine *exchange.Engine, audit *storage.Audit, admin exchange.Address, auth *Authenticator, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit storage required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		audit:   audit,
		admin:   admin,
		auth:    auth,
		logger:  logger,
		metrics: observability.Exchange(),
	}, nil
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/exchange/status", s.handleStatus)
		r.Post("/exchange/quote", s.handleQuote)
		r.Post("/exchange/execute", s.handleExecute)
		r.Post("/exchange/execute-delegated", s.handleExecuteDelegated)

		r.Get("/tokens", s.handleListTokens)
		r.Get("/tokens/{symbol}", s.handleGetToken)
		r.Put("/tokens/{symbol}", s.handleConfigureToken)
		r.Post("/tokens/{symbol}/enabled", s.handleSetTokenEnabled)
		r.Put("/tokens/{symbol}/operational-fee", s.handleConfigureOperationalFee)
		r.Post("/tokens/{symbol}/operational-fee/withdraw", s.handleWithdrawOperationalFee)
		r.Post("/tokens/{symbol}/liquidity", s.handleFundLiquidity)
		r.Post("/tokens/{symbol}/emergency-withdraw", s.handleEmergencyWithdraw)
		r.Get("/tokens/{symbol}/stats", s.handleTokenStats)

		r.Post("/prices/batch", s.handleBatchPushPrices)
		r.Post("/prices/{symbol}", s.handlePushPrice)

		r.Get("/access/mode", s.handleGetAccessMode)
		r.Put("/access/mode", s.handleSetAccessMode)
		r.Post("/access/whitelist", s.handleUpdateWhitelist)
		r.Get("/access/whitelist/{address}", s.handleWhitelisted)
		r.Get("/access/daily-limit", s.handleGetDailyLimit)
		r.Put("/access/daily-limit", s.handleSetDailyLimit)

		r.Post("/admin/pause", s.handlePause)
		r.Post("/admin/unpause", s.handleUnpause)
		r.Put("/admin/treasury", s.handleSetTreasury)
		r.Put("/admin/max-fee", s.handleSetMaxFee)
		r.Put("/admin/rate", s.handleSetRate)
		r.Post("/admin/roles/grant", s.handleGrantRole)
		r.Post("/admin/roles/revoke", s.handleRevokeRole)

		r.Get("/users/{address}/stats/{symbol}", s.handleUserStats)

		r.Get("/receipts", s.handleListReceipts)
		r.Get("/receipts/export", s.handleExportReceipts)
		r.Get("/payouts", s.handlePendingPayouts)
		r.Post("/payouts/{id}/settle", s.handleSettlePayout)
	})
	return otelhttp.NewHandler(r, "pointswapd.http")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
