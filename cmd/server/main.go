package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appevent "github.com/erp/procurement/internal/application/event"
	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/event"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/migration"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/portal"
	"github.com/erp/procurement/internal/infrastructure/scheduler"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/erp/procurement/internal/interfaces/http/router"
	"github.com/erp/procurement/migrations"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()
	telemetryCfg := telemetry.FromConfig(cfg.Telemetry)

	// OTLP logs are teed into zap once the pipeline exists
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetryCfg, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log := logProvider.Bridge(baseLog, telemetryCfg.ServiceName, logger.ParseLevel(cfg.Log.Level))
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting procurement engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerFromConfig(cfg.Profiling, telemetryCfg.ServiceName), log)
	if err != nil {
		log.Fatal("Failed to initialize profiling", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	meter := meterProvider.Meter(telemetryCfg.ServiceName)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := runMigrations(db, log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	if cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.DefaultDBTracingConfig()
		dbTracing.Enabled = true
		dbTracing.DBName = cfg.Database.DBName
		if err := telemetry.RegisterDBTracing(db.DB, dbTracing, log); err != nil {
			log.Fatal("Failed to register database tracing", zap.Error(err))
		}
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meter, log)
	if err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	defer func() {
		_ = dbMetrics.Unregister()
	}()

	clock := shared.NewSystemClock()

	// Events: aggregates append to the outbox inside the order transaction;
	// the processor later publishes them to the in-process bus.
	serializer := event.NewEventSerializer()
	event.RegisterProcurementEvents(serializer)
	outboxPublisher := event.NewOutboxPublisher(serializer, cfg.Event.MaxRetries)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	store := appprocurement.Store{
		Orders:     persistence.NewGormOrderRepository(db.DB),
		Steps:      persistence.NewGormApprovalStepRepository(db.DB),
		Attempts:   persistence.NewGormIntegrationAttemptRepository(db.DB),
		Responses:  persistence.NewGormSupplierResponseRepository(db.DB),
		Ledger:     persistence.NewGormAuditLedger(db.DB),
		UnitOfWork: persistence.NewGormUnitOfWork(db.DB, outboxPublisher),
	}

	metrics, err := telemetry.NewProcurementMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create procurement metrics", zap.Error(err))
	}

	// Supplier portal
	keys := portal.NewKeyring(cfg.Portal.MasterSecret, cfg.Portal.SupplierSecrets)
	gateway, err := portal.NewHTTPGateway(cfg.Portal, keys, log)
	if err != nil {
		log.Fatal("Failed to create portal gateway", zap.Error(err))
	}

	// Application services
	policies, err := approvalPolicies(cfg.Approval)
	if err != nil {
		log.Fatal("Invalid approval policy configuration", zap.Error(err))
	}
	approvalService := appprocurement.NewApprovalService(store, policies, clock, log)
	approvalService.SetMetrics(metrics)
	approvalService.SetConflictRetries(cfg.Concurrency.ConflictRetries)

	orderService := appprocurement.NewOrderService(store, approvalService, clock, log)
	orderService.SetMetrics(metrics)
	orderService.SetConflictRetries(cfg.Concurrency.ConflictRetries)

	dispatchService := appprocurement.NewDispatchService(store, gateway, procurement.RetryPolicy{
		BaseDelay:      cfg.Dispatch.BaseDelay,
		MaxDelay:       cfg.Dispatch.MaxDelay,
		JitterFraction: cfg.Dispatch.JitterFraction,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
	}, clock, log)
	dispatchService.SetMetrics(metrics)
	dispatchService.SetConflictRetries(cfg.Concurrency.ConflictRetries)

	receiverService := appprocurement.NewReceiverService(store, portal.NewVerifier(keys), clock, log)
	receiverService.SetMetrics(metrics)
	receiverService.SetConflictRetries(cfg.Concurrency.ConflictRetries)
	receiverService.SetAcceptanceWindow(cfg.Portal.AcceptanceWindow)

	// Background workers
	schedulerCfg := scheduler.DefaultDispatchSchedulerConfig()
	schedulerCfg.Workers = cfg.Dispatch.Workers
	schedulerCfg.PollInterval = cfg.Dispatch.PollInterval
	schedulerCfg.StaleAfter = cfg.Dispatch.StaleAfter
	schedulerCfg.JobTimeout = 2 * cfg.Portal.RequestTimeout
	retryScheduler, err := scheduler.NewDispatchRetryScheduler(schedulerCfg, dispatchService, clock, log)
	if err != nil {
		log.Fatal("Failed to create dispatch retry scheduler", zap.Error(err))
	}
	dispatchService.SetRetryScheduler(retryScheduler)
	orderService.SetRetryCanceller(retryScheduler)

	sweeper := scheduler.NewApprovalExpirySweeper(scheduler.ApprovalExpirySweeperConfig{
		Interval:  cfg.Approval.SweepInterval,
		BatchSize: cfg.Approval.SweepBatch,
	}, approvalService, log)

	idempotencyStore, err := cache.NewIdempotencyStore(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		_ = idempotencyStore.Close()
	}()

	eventBus := event.NewInMemoryEventBus(log)
	idempotencyMetrics := &event.IdempotencyMetrics{}
	for _, h := range []shared.EventHandler{
		appprocurement.NewActivityLogHandler(log),
		appprocurement.NewAlertHandler(appprocurement.NewLoggingAlerter(log), log),
		appprocurement.NewDispatchOnApprovalHandler(retryScheduler, clock, log),
	} {
		eventBus.Subscribe(event.NewIdempotentHandler(h, idempotencyStore, log,
			event.WithIdempotencyConfig(shared.IdempotencyConfig{TTL: cfg.Event.IdempotencyTTL, Enabled: true}),
			event.WithIdempotencyMetrics(idempotencyMetrics),
		))
	}

	outboxCfg := event.DefaultOutboxProcessorConfig()
	outboxCfg.BatchSize = cfg.Event.OutboxBatchSize
	outboxCfg.PollInterval = cfg.Event.OutboxPollInterval
	outboxCfg.CleanupEnabled = cfg.Event.CleanupRetention > 0
	outboxCfg.CleanupRetention = cfg.Event.CleanupRetention
	outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, serializer, outboxCfg, clock, log)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	mustStart(log, "event bus", eventBus.Start(workerCtx))
	if cfg.Event.ProcessorEnabled {
		mustStart(log, "outbox processor", outboxProcessor.Start(workerCtx))
	}
	mustStart(log, "dispatch retry scheduler", retryScheduler.Start(workerCtx))
	mustStart(log, "approval expiry sweeper", sweeper.Start(workerCtx))

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	var portalLimiter *middleware.RateLimiter
	if cfg.Portal.RateLimit > 0 {
		portalLimiter = middleware.NewRateLimiter(cfg.Portal.RateLimit, time.Minute)
	}

	engine := router.New(router.Config{
		ServiceName:     telemetryCfg.ServiceName,
		Logger:          log,
		Tokens:          auth.NewJWTService(cfg.JWT),
		Meter:           meter,
		PortalBodyLimit: cfg.HTTP.MaxBodySize,
		PortalLimiter:   portalLimiter,
		Profiling:       profiler.IsEnabled(),
	}, router.Handlers{
		Orders:    handler.NewOrderHandler(orderService),
		Approvals: handler.NewApprovalHandler(approvalService),
		Dispatch:  handler.NewDispatchHandler(dispatchService),
		Portal:    handler.NewPortalWebhookHandler(receiverService),
		Health: handler.NewHealthHandler(version, map[string]handler.HealthCheck{
			"database": db.Ping,
		}),
		Outbox: handler.NewOutboxHandler(appevent.NewOutboxService(outboxRepo, log)),
	})
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop producers before consumers: no new retries once the sweeper and
	// scheduler are down, then drain the outbox.
	stop(shutdownCtx, log, "approval expiry sweeper", sweeper.Stop)
	stop(shutdownCtx, log, "dispatch retry scheduler", retryScheduler.Stop)
	if cfg.Event.ProcessorEnabled {
		stop(shutdownCtx, log, "outbox processor", outboxProcessor.Stop)
	}
	stop(shutdownCtx, log, "event bus", eventBus.Stop)
	stop(shutdownCtx, log, "meter provider", meterProvider.Shutdown)
	stop(shutdownCtx, log, "tracer provider", tracerProvider.Shutdown)
	if err := profiler.Stop(); err != nil {
		log.Error("Failed to stop profiler", zap.Error(err))
	}

	stats := idempotencyMetrics.Stats()
	log.Info("Server exited gracefully",
		zap.Int64("events_processed", stats.EventsProcessed),
		zap.Int64("events_duplicate", stats.EventsDuplicate),
		zap.Int64("events_failed", stats.EventsFailed),
	)
	_ = logProvider.Shutdown(shutdownCtx)
}

func runMigrations(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, migrations.FS, log)
	if err != nil {
		return err
	}
	return m.Up()
}

func mustStart(log *zap.Logger, name string, err error) {
	if err != nil {
		log.Fatal("Failed to start "+name, zap.Error(err))
	}
}

func stop(ctx context.Context, log *zap.Logger, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Error("Failed to stop "+name, zap.Error(err))
	}
}
