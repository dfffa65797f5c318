// @title Order Payments API
// @version 1.0
// @description 订单与 M-Pesa STK Push 支付服务
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/order-payments/config"
	_ "github.com/d60-Lab/order-payments/docs"
	"github.com/d60-Lab/order-payments/internal/api"
	"github.com/d60-Lab/order-payments/internal/api/handler"
	"github.com/d60-Lab/order-payments/internal/api/middleware"
	"github.com/d60-Lab/order-payments/internal/cache"
	"github.com/d60-Lab/order-payments/internal/events"
	"github.com/d60-Lab/order-payments/internal/integration"
	"github.com/d60-Lab/order-payments/internal/mpesa"
	"github.com/d60-Lab/order-payments/internal/repository"
	"github.com/d60-Lab/order-payments/internal/service"
	"github.com/d60-Lab/order-payments/pkg/database"
	"github.com/d60-Lab/order-payments/pkg/logger"
	"github.com/d60-Lab/order-payments/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.Init(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(cfg.Server.Mode)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), tracing.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := handler.RegisterValidators(v); err != nil {
			return fmt.Errorf("register validators: %w", err)
		}
	}

	// 后台执行器
	best := service.NewLoggingBestEffort(log.Named("best_effort"))
	dispatcher := service.NewDispatcher(best, cfg.Dispatcher.QueueSize)
	stopDispatcher := dispatcher.Start(cfg.Dispatcher.Workers)

	var publisher events.Publisher = events.NewLogPublisher(log.Named("events"))
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka"))
		if err != nil {
			return err
		}
		publisher = kp
	}
	defer publisher.Close()
	relay := service.NewOutboxRelay(db, publisher, cfg.Outbox.Workers, cfg.Outbox.BatchSize, cfg.Outbox.PollInterval, log.Named("outbox"))
	stopRelay := relay.Start()

	// 外部协作方
	inventory := integration.NewInventoryClient(cfg.Services.InventoryURL, cfg.Services.ServiceToken, cfg.Services.Timeout)
	notifier := integration.NewNotificationClient(cfg.Services.NotificationURL, cfg.Services.ServiceToken, cfg.Services.Timeout)
	refunder := integration.NewRefundClient(cfg.Services.PaymentsURL, cfg.Services.ServiceToken, cfg.Services.Timeout)

	mpesaOpts := []mpesa.Option{mpesa.WithLogger(log.Named("mpesa"))}
	orderOpts := []service.OrderOption{
		service.WithTaskQueue(dispatcher),
		service.WithBestEffort(best),
		service.WithOrderLogger(log.Named("orders")),
	}
	if rdb != nil {
		mpesaOpts = append(mpesaOpts, mpesa.WithTokenCache(mpesa.NewRedisTokenCache(rdb)))
		orderOpts = append(orderOpts, service.WithOrderCache(cache.NewRedisOrderCache(rdb, cfg.Redis.OrderTTL)))
	}
	gateway := mpesa.NewClient(mpesa.Config{
		Environment:     mpesa.Environment(cfg.Mpesa.Environment),
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		PassKey:         cfg.Mpesa.PassKey,
		InitiatorName:   cfg.Mpesa.InitiatorName,
		CallbackBaseURL: cfg.Mpesa.CallbackBaseURL,
		BaseURL:         cfg.Mpesa.BaseURL,
		Timeout:         cfg.Mpesa.Timeout,
	}, mpesaOpts...)

	txRepo := repository.NewTransactionRepository(db)
	orders := service.NewOrderService(repository.NewOrderRepository(db), inventory, notifier, refunder, orderOpts...)
	payments := service.NewPaymentService(gateway, txRepo, log.Named("payments"))
	reconciler := service.NewCallbackReconciler(txRepo, orders, best, log.Named("callbacks"))

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	router := api.NewRouter(api.RouterOptions{
		Handler:     handler.NewHandler(orders, payments, reconciler, log.Named("http")),
		Logger:      log.Named("access"),
		JWTSecret:   cfg.JWT.Secret,
		JWTIssuer:   cfg.JWT.Issuer,
		Limiter:     limiter,
		ServiceName: cfg.Tracing.ServiceName,
		Health:      healthChecks(db, rdb),
		Tracing:     cfg.Tracing.Enabled,
		Swagger:     cfg.Server.Mode != gin.ReleaseMode,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cleanupLimiter(ctx, limiter)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("mpesa_env", cfg.Mpesa.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := stopDispatcher(shutdownCtx); err != nil {
		log.Warn("dispatcher drain", zap.Error(err))
	}
	if err := stopRelay(shutdownCtx); err != nil {
		log.Warn("outbox relay stop", zap.Error(err))
	}
	return nil
}

func healthChecks(db *gorm.DB, rdb *redis.Client) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

func cleanupLimiter(ctx context.Context, l *middleware.IPRateLimiter) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Cleanup()
		}
	}
}
