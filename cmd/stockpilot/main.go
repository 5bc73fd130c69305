package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockpilot/stockpilot/internal/app"
	"github.com/stockpilot/stockpilot/internal/auth"
	"github.com/stockpilot/stockpilot/internal/catalog"
	"github.com/stockpilot/stockpilot/internal/dashboard"
	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/notify"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/platform/cache"
	"github.com/stockpilot/stockpilot/internal/platform/db"
	"github.com/stockpilot/stockpilot/internal/purchase"
	"github.com/stockpilot/stockpilot/internal/shared"
	"github.com/stockpilot/stockpilot/internal/suppliers"
	"github.com/stockpilot/stockpilot/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	broker := notify.NewBroker(redisClient, logger, metrics)
	eventsHandler := notify.NewHandler(logger, broker)

	dashboardCache := dashboard.NewCache(redisClient, 10*time.Minute)

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authRepo := auth.NewRepository(dbpool)
	authMiddleware := auth.NewMiddleware(issuer, authRepo, logger)
	authService := auth.NewService(authRepo, auditLogger)
	authHandler := auth.NewHandler(logger, authService, issuer, authMiddleware)

	catalogService := catalog.NewService(catalog.NewRepository(dbpool), auditLogger, dashboardCache)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger, idempotencyStore, broker, metrics, dashboardCache, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	supplierService := suppliers.NewService(suppliers.NewRepository(dbpool), auditLogger, dashboardCache)
	supplierHandler := suppliers.NewHandler(logger, supplierService)

	purchaseService := purchase.NewService(purchase.NewRepository(dbpool), auditLogger, broker, dashboardCache)
	purchaseHandler := purchase.NewHandler(logger, purchaseService)

	dashboardService := dashboard.NewService(dashboard.NewRepository(dbpool), dashboardCache)
	dashboardHandler := dashboard.NewHandler(logger, dashboardService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthHandler:      authHandler,
		AuthMiddleware:   authMiddleware,
		CatalogHandler:   catalogHandler,
		LedgerHandler:    ledgerHandler,
		SupplierHandler:  supplierHandler,
		PurchaseHandler:  purchaseHandler,
		DashboardHandler: dashboardHandler,
		EventsHandler:    eventsHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	// WriteTimeout stays unset, it would sever long-lived event streams.
	// Non-streaming requests are bounded by the timeout middleware.
	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
