package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/delicrem-erp/delicrem-erp/internal/app"
	"github.com/delicrem-erp/delicrem-erp/internal/capacity"
	"github.com/delicrem-erp/delicrem-erp/internal/catalog"
	"github.com/delicrem-erp/delicrem-erp/internal/orders"
	"github.com/delicrem-erp/delicrem-erp/internal/platform/cache"
	"github.com/delicrem-erp/delicrem-erp/internal/platform/db"
	"github.com/delicrem-erp/delicrem-erp/internal/production"
	"github.com/delicrem-erp/delicrem-erp/internal/sales"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
	"github.com/delicrem-erp/delicrem-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// The job client enqueues over the same redis connection; closing
	// redisClient above tears both down.
	jobClient := jobs.NewClientFromRedis(redisClient)

	auditLogger := shared.NewAuditLogger(pool)
	catalogRepo := catalog.NewRepository(pool)

	ledger := capacity.NewLedger(capacity.NewRepository(pool), cfg.DailyCapacity)
	guard := capacity.NewGuard()

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, catalogRepo, ledger, guard, auditLogger)
	salesService := sales.NewService(sales.NewRepository(pool), ordersRepo, catalogRepo, ledger, guard, auditLogger)
	productionService := production.NewService(production.NewRepository(pool), ledger, guard, jobClient, auditLogger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		OrdersHandler:     orders.NewHandler(logger, ordersService),
		SalesHandler:      sales.NewHandler(logger, salesService),
		ProductionHandler: production.NewHandler(logger, productionService),
		CapacityHandler:   capacity.NewHandler(logger, ledger),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
