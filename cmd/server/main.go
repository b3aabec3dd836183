package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formation-booking/internal/config"
	"formation-booking/internal/database"
	"formation-booking/internal/handlers"
	"formation-booking/internal/kafka"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"
	"formation-booking/internal/redis"
	"formation-booking/internal/registry"
	"formation-booking/internal/scheduler"
	"formation-booking/internal/services"
	"formation-booking/internal/telemetry"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	setupTelemetry   = telemetry.Setup
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *database.DB
	redis     *redis.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	sessions  *registry.Registry
	scheduler *scheduler.Scheduler
	server    *http.Server
	shutdown  telemetry.ShutdownFunc
}

func main() {
	app, err := buildApplication(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting formation booking server...")

	if app.cfg.Scheduler.Enabled {
		app.scheduler.Start(context.Background())
	}

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	app.scheduler.Stop()
	_ = app.consumer.Stop()
	_ = app.producer.Close()
	_ = app.sessions.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	if err := app.shutdown(ctx); err != nil {
		app.log.WithError(err).Warn("Failed to flush telemetry")
	}
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication(ctx context.Context) (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	shutdownTelemetry, err := setupTelemetry(ctx, &cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	closeAll := func() {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		_ = shutdownTelemetry(ctx)
	}

	sessions := registry.New()
	notifier := services.NewEventNotifier(producer, sessions, log)

	// часовой пояс планировщика задаёт «сегодня» и для задач, и для сервисов
	jobScheduler, err := scheduler.New(&cfg.Scheduler, redisClient, log)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	loc := jobScheduler.Location()

	userService := services.NewUserService(db, log)
	catalogService := services.NewCatalogService(db, log).WithLocation(loc)
	couponService := services.NewCouponService(db, catalogService, userService, log).WithLocation(loc)
	cartService := services.NewCartService(db, catalogService, couponService, log, &cfg.Cart).WithLocation(loc)
	checkoutService := services.NewCheckoutService(db, catalogService, userService, cartService, notifier, log, &cfg.Checkout).WithLocation(loc)
	pricingService := services.NewPricingService(catalogService, couponService).WithLocation(loc)
	tokenService := services.NewTokenService(db, log)
	attemptGuard := services.NewCouponAttemptGuard(redisClient, log, &cfg.CouponAttempts)

	jobs := scheduler.NewJobs(checkoutService, catalogService, tokenService, producer, loc, log)
	if err := jobs.RegisterAll(jobScheduler, cfg.Scheduler.ExpireCron, cfg.Scheduler.OfferingStatusCron, cfg.Scheduler.TokenSweepCron); err != nil {
		closeAll()
		return nil, fmt.Errorf("scheduler jobs: %w", err)
	}

	cacheTTL := time.Duration(cfg.Checkout.CacheTTLMinutes) * time.Minute
	router := handlers.NewRouter(handlers.Handlers{
		Health:       handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck),
		Catalog:      handlers.NewCatalogHandler(catalogService, pricingService, log),
		Coupons:      handlers.NewCouponHandler(couponService, producer, redisClient, attemptGuard, cacheTTL, log),
		Cart:         handlers.NewCartHandler(cartService, producer, redisClient, log),
		Transactions: handlers.NewTransactionHandler(checkoutService, producer, redisClient, cacheTTL, log),
		Jobs:         handlers.NewJobHandler(jobScheduler, log),
		Presence:     handlers.NewPresenceHandler(sessions, log),
		Attempts:     handlers.NewCouponAttemptHandler(attemptGuard, log),
	}, attemptGuard, log)

	registerEventHandlers(consumer, redisClient, log)
	if err := consumer.Start(); err != nil {
		closeAll()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:       cfg,
		log:       log,
		db:        db,
		redis:     redisClient,
		producer:  producer,
		consumer:  consumer,
		sessions:  sessions,
		scheduler: jobScheduler,
		server:    server,
		shutdown:  shutdownTelemetry,
	}, nil
}

// cacheDeleter удаляет ключ кеша
type cacheDeleter interface {
	Delete(ctx context.Context, key string) error
}

// registerEventHandlers сбрасывает кеш при изменениях, сделанных другими экземплярами
func registerEventHandlers(consumer *kafka.Consumer, cache cacheDeleter, log *logger.Logger) {
	invalidate := func(prefix, field string) kafka.EventHandler {
		return func(ctx context.Context, event *models.Event) error {
			id, ok := eventField(event, field)
			if !ok {
				log.WithField("event_id", event.ID).Warn("Event without entity id, cache not invalidated")
				return nil
			}
			return cache.Delete(ctx, redis.GenerateKey(prefix, id))
		}
	}

	for _, t := range []models.EventType{
		models.EventTypeTransactionConfirmed,
		models.EventTypeTransactionRefunded,
		models.EventTypeTransactionExpired,
	} {
		consumer.RegisterHandler(t, invalidate(redis.KeyPrefixTransaction, "transaction_id"))
	}

	for _, t := range []models.EventType{
		models.EventTypeCouponApplied,
		models.EventTypeCouponDisabled,
		models.EventTypeCouponReleased,
	} {
		consumer.RegisterHandler(t, invalidate(redis.KeyPrefixCoupon, "coupon_id"))
	}
}

// eventField достаёт строковое поле из данных события после JSON-декодирования
func eventField(event *models.Event, field string) (string, bool) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	value, ok := data[field].(string)
	return value, ok && value != ""
}
