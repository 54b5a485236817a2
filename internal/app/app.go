// Package app wires the application together: configuration, storage,
// gateway providers, services, background workers and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/infra/sched"
	"github.com/chargehub/server/internal/infra/task"
	"github.com/chargehub/server/internal/module/idempotency"
	"github.com/chargehub/server/internal/module/invoice"
	"github.com/chargehub/server/internal/module/order"
	"github.com/chargehub/server/internal/module/payment"
	"github.com/chargehub/server/internal/module/payment/gateway"
	"github.com/chargehub/server/internal/module/refund"
	"github.com/chargehub/server/internal/module/webhook"
	"github.com/chargehub/server/internal/shared/cache"
	"github.com/chargehub/server/internal/shared/config"
	"github.com/chargehub/server/internal/shared/database"
	"github.com/chargehub/server/internal/utils/metrics"
	"github.com/chargehub/server/internal/utils/middleware"
)

// App holds the wired application.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db    *gorm.DB
	redis redis.UniversalClient

	jobs      *task.Manager
	scheduler *sched.Scheduler
	server    *http.Server
}

// New builds the application from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	m := metrics.New("chargehub")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(
		&order.Order{},
		&payment.PaymentIntent{},
		&payment.Transaction{},
		&refund.Refund{},
		&webhook.WebhookEvent{},
		&invoice.Invoice{},
		&task.Job{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	// Gateway providers.
	client := gateway.NewClient(gateway.ProviderStripe, gateway.ClientConfig{
		CallTimeout: cfg.Gateway.CallTimeout,
		MaxAttempts: cfg.Gateway.MaxAttempts,
		BaseDelay:   cfg.Gateway.RetryBaseDelay,
	}, m, logger)
	registry := gateway.NewRegistry()
	registry.Register(gateway.NewStripeProvider(&gateway.StripeConfig{
		APIKey:        cfg.Gateway.Stripe.APIKey,
		WebhookSecret: cfg.Gateway.Stripe.WebhookSecret,
	}, client))

	// Services.
	idemSvc := idempotency.NewService(
		idempotency.NewRedisStore(redisClient),
		idempotency.Config{TTL: cfg.Idempotency.TTL, LockTTL: cfg.Idempotency.LockTTL},
		logger,
	)

	orderSvc := order.NewService(order.NewRepository(db), logger)
	paymentRepo := payment.NewRepository(db)
	paymentSvc := payment.NewService(paymentRepo, orderSvc, registry, idemSvc, payment.Config{}, logger)
	refundSvc := refund.NewService(refund.NewRepository(db), paymentRepo, registry,
		refund.Config{MaxRefundPeriod: cfg.Refund.MaxRefundPeriod}, logger)
	invoiceSvc := invoice.NewService(invoice.NewRepository(db), orderSvc, logger)

	// Background jobs.
	jobs := task.NewManager(task.NewRepository(db), m, logger, &task.Config{
		PollInterval: cfg.Jobs.PollInterval,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		BaseBackoff:  cfg.Jobs.RetryBackoff,
	})

	webhookSvc := webhook.NewService(webhook.NewRepository(db), registry,
		paymentSvc, refundSvc, jobs, m, logger)

	jobs.Register(task.TypeWebhookProcessing, func(ctx context.Context, job *task.Job) error {
		recordID, err := payloadUUID(job, "event_record_id")
		if err != nil {
			return err
		}
		return webhookSvc.ProcessStoredEvent(ctx, recordID)
	}, task.PoolConfig{
		Concurrency:  cfg.Jobs.WebhookConcurrency,
		RatePerSec:   cfg.Jobs.WebhookRatePerSec,
		RetryBackoff: cfg.Jobs.WebhookBackoff,
	})

	jobs.Register(task.TypeInvoiceGeneration, func(ctx context.Context, job *task.Job) error {
		orderID, err := payloadUUID(job, "order_id")
		if err != nil {
			return err
		}
		tenantID, err := payloadUUID(job, "tenant_id")
		if err != nil {
			return err
		}
		_, err = invoiceSvc.GenerateForOrder(ctx, orderID, tenantID)
		return err
	}, task.PoolConfig{
		Concurrency:  cfg.Jobs.InvoiceConcurrency,
		RetryBackoff: cfg.Jobs.InvoiceBackoff,
	})

	jobs.Register(task.TypePaymentStatusSync, func(ctx context.Context, job *task.Job) error {
		intentID, err := payloadUUID(job, "intent_id")
		if err != nil {
			return err
		}
		tenantID, err := payloadUUID(job, "tenant_id")
		if err != nil {
			return err
		}
		_, err = paymentSvc.SyncPaymentIntent(ctx, intentID, tenantID)
		return err
	}, task.PoolConfig{Concurrency: cfg.Jobs.SyncConcurrency})

	paymentSvc.OnOrderCompleted(func(ctx context.Context, orderID, tenantID uuid.UUID) {
		if _, err := jobs.Enqueue(ctx, task.TypeInvoiceGeneration, map[string]any{
			"order_id":  orderID.String(),
			"tenant_id": tenantID.String(),
		}); err != nil {
			logger.Error("enqueue invoice generation",
				zap.String("order_id", orderID.String()), zap.Error(err))
		}
	})

	// Maintenance sweeps.
	scheduler := sched.New(logger)
	scheduler.Register("payment-intent-expiry", cfg.Jobs.ExpirySweepEvery, func(ctx context.Context) error {
		_, err := paymentSvc.ExpireStaleIntents(ctx, 100)
		return err
	})
	scheduler.Register("payment-status-sync", cfg.Jobs.ExpirySweepEvery, func(ctx context.Context) error {
		intents, err := paymentSvc.FindProcessingIntents(ctx, 100)
		if err != nil {
			return err
		}
		for i := range intents {
			_, err := jobs.Enqueue(ctx, task.TypePaymentStatusSync, map[string]any{
				"intent_id": intents[i].ID.String(),
				"tenant_id": intents[i].TenantID.String(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	scheduler.Register("webhook-requeue", time.Minute, func(ctx context.Context) error {
		_, err := webhookSvc.RequeueUnprocessed(ctx, time.Minute, 100)
		return err
	})

	// HTTP server.
	router := buildRouter(cfg, logger, m, db, redisClient,
		order.NewHandler(orderSvc),
		payment.NewHandler(paymentSvc),
		refund.NewHandler(refundSvc),
		invoice.NewHandler(invoiceSvc),
		webhook.NewHandler(webhookSvc, logger),
	)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		jobs:      jobs,
		scheduler: scheduler,
		server:    server,
	}, nil
}

func buildRouter(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, db *gorm.DB, redisClient redis.UniversalClient,
	orders *order.Handler, payments *payment.Handler, refunds *refund.Handler, invoices *invoice.Handler, webhooks *webhook.Handler) *gin.Engine {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger, m))
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization",
			"Idempotency-Key", middleware.TenantIDHeader, middleware.RequestIDHeader,
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err == nil {
			err = redisClient.Ping(c.Request.Context()).Err()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks.RegisterRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.TenantScope())
	{
		orders.RegisterRoutes(api)
		payments.RegisterRoutes(api)
		refunds.RegisterRoutes(api)
		invoices.RegisterRoutes(api)
	}

	return router
}

// Run starts background workers and serves HTTP until the server stops.
func (a *App) Run() error {
	if err := a.jobs.Start(context.Background()); err != nil {
		return fmt.Errorf("start job manager: %w", err)
	}
	a.scheduler.Start()

	a.logger.Info("server listening", zap.String("address", a.cfg.Server.Address))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server and stops background workers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("shutdown http server", zap.Error(err))
	}
	a.scheduler.Stop()
	a.jobs.Stop()

	if err := cache.Close(a.redis); err != nil {
		a.logger.Error("close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Error("close database", zap.Error(err))
	}
	return nil
}

// payloadUUID extracts a UUID field from a job payload.
func payloadUUID(job *task.Job, field string) (uuid.UUID, error) {
	raw, ok := job.Payload[field].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("job %s missing payload field %q", job.ID, field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job %s has invalid %q: %w", job.ID, field, err)
	}
	return id, nil
}
