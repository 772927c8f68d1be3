package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"docconvert/config"
	"docconvert/conversion"
	"docconvert/fileserver"
	"docconvert/logger"
	"docconvert/services"
	"docconvert/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.Info("starting document conversion service", "supported", conversion.SupportedConversions())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to redis", "addr", cfg.RedisAddr)

	dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbSvc.Close()
	if err := dbSvc.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database")

	s3Svc := services.NewS3Service(cfg)
	manager, err := conversion.NewManager(
		cfg,
		services.NewConversionRegistry(dbSvc, s3Svc),
		services.NewDownloader(cfg.DownloadTimeout),
		services.NewEventPublisher(redisClient, cfg.EventsChannel),
	)
	if err != nil {
		slog.Error("failed to create conversion manager", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      fileserver.NewRouter(fileserver.NewHandler(dbSvc, s3Svc, cfg.ConverterName)),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("file server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("file server failed", "error", err)
			os.Exit(1)
		}
	}()

	pool := worker.NewPool(cfg, redisClient, dbSvc, manager)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pool.StartWorker(ctx, workerID)
		}(i)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.PollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		pool.RecoveryLoop(ctx)
	}()

	slog.Info("service is ready",
		"workers", cfg.WorkerCount,
		"queue", cfg.PendingQueue,
		"document_server", cfg.DocServerInternalURL,
		"signed_requests", cfg.DocServerSecret != "",
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutdown signal received, stopping workers")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("file server forced to shut down", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("shutdown timeout, forcing exit")
	}

	redisClient.Close()
	slog.Info("conversion service stopped")
}
