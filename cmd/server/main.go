package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-agent/config"
	"storefront-agent/internal/api"
	"storefront-agent/internal/apiclient"
	"storefront-agent/internal/broker"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/redisclient"
	"storefront-agent/internal/service"
	"storefront-agent/internal/session"
	"storefront-agent/internal/store"
	"storefront-agent/internal/util"
	"storefront-agent/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront agent",
		zap.String("session_id", cfg.Session.ID),
		zap.String("backend", cfg.Remote.Endpoint))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	checks := map[string]api.ReadinessCheck{}

	var sessionStore session.Store
	switch cfg.Session.Backend {
	case "memory":
		sessionStore = session.NewMemoryStore()
		logger.Info("Using in-memory session store")
	default:
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		sessionStore = redisClient
		checks["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	var receipts api.ReceiptLister
	var db *store.Store
	if cfg.Database.Enabled {
		db, err = store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("Failed to prepare database", zap.Error(err))
		}
		receipts = db
		checks["postgres"] = db.Ping
		logger.Info("Database connected")
	}

	var publisher broker.Publisher = broker.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicCheckout))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var receiptWorker *worker.ReceiptWorker
	if cfg.Kafka.Enabled && db != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup)
		receiptWorker = worker.NewReceiptWorker(consumer, db)
		go func() {
			if err := receiptWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Receipt worker error", zap.Error(err))
			}
		}()
	}

	backend := apiclient.NewClient(cfg.Remote.Endpoint, cfg.Remote.RequestTimeout)
	sess := session.New(cfg.Session.ID, sessionStore)
	feed := notify.NewFeed(cfg.UI.NotificationBuffer)
	storefront := service.NewStorefront(backend, sess, feed, publisher, cfg.UI.SearchDebounce)
	defer storefront.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), cfg.Remote.RequestTimeout)
	if _, err := storefront.Catalog.FetchAll(startupCtx); err != nil {
		logger.Warn("Catalog not available at startup", zap.Error(err))
	}
	if _, err := storefront.Cart.Load(startupCtx); err != nil {
		logger.Warn("Cart not available at startup", zap.Error(err))
	}
	startupCancel()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(storefront, receipts, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if receiptWorker != nil {
		if err := receiptWorker.Stop(); err != nil {
			logger.Warn("Error stopping receipt worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
