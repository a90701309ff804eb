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

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"moonmining-backend/config"
	"moonmining-backend/internal/api"
	"moonmining-backend/internal/db"
	"moonmining-backend/internal/feed"
	"moonmining-backend/internal/lifecycle"
	"moonmining-backend/internal/notification"
	"moonmining-backend/internal/prices"
	"moonmining-backend/internal/store"
	"moonmining-backend/internal/syncer"
	"moonmining-backend/internal/valuation"
)

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalw("failed to load configuration", "path", configPath, "error", err)
	}
	logger.Infow("configuration loaded", "path", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatal("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalw("failed to initialize database", "error", err)
	}
	logger.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	priceLookup := prices.NewCached(appStore,
		time.Duration(cfg.Valuation.PriceCacheTTLSeconds)*time.Second)
	valuationEngine := valuation.NewEngine(priceLookup,
		cfg.Valuation.ReprocessingYield, cfg.Valuation.MonthlyVolume)
	aggregator := valuation.NewAggregator(valuationEngine, appStore)

	feedClient := feed.NewClient(&cfg.Feed, appStore, logger)
	directory := syncer.NewDirectory(appStore, feedClient, feedClient, logger)
	catalog := syncer.NewCatalog(appStore, feedClient, feedClient, logger)

	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions, logger)
	lifecycleEngine := lifecycle.NewEngine(appStore, directory, aggregator, logger)

	syncerSvc := syncer.NewService(cfg, appStore, feedClient, catalog, lifecycleEngine, workerPool, logger)
	go syncerSvc.Run(ctx)

	router := api.NewRouter(&cfg.Server, appStore, &webpushOptions, aggregator)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infow("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("HTTP server ListenAndServe", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalw("HTTP server shutdown", "error", err)
	}

	logger.Info("server gracefully stopped")
}
