package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serpassist/internal/util"
	"serpassist/pkg/ai"
	"serpassist/pkg/queue"
	"serpassist/pkg/store"
	"serpassist/services/indexer/internal/app"
	"serpassist/services/indexer/internal/config"
	"serpassist/services/indexer/internal/server"
	"serpassist/services/indexer/internal/sourceclient"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var storeOpts []store.GormStoreOption
	if cfg.EmbeddingDim > 0 {
		storeOpts = append(storeOpts, store.WithEmbeddingDim(cfg.EmbeddingDim))
	}
	st, err := store.NewGormStore(cfg.DatabaseURL, storeOpts...)
	if err != nil {
		logger.Error("failed to init store", "err", err)
		os.Exit(1)
	}

	provider, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		logger.Error("failed to init gemini client", "err", err)
		os.Exit(1)
	}

	taskQueue, err := queue.NewRedisTaskQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		Consumer:   util.NewID(),
		MaxRetries: cfg.QueueMaxRetries,
	})
	if err != nil {
		logger.Error("failed to init task queue", "err", err)
		os.Exit(1)
	}
	defer taskQueue.Close()

	appCore, err := app.New(app.Config{
		Store:          st,
		Provider:       provider,
		Queue:          taskQueue,
		Sources:        sourceclient.NewHTTPClient(cfg.SourceBaseURL, cfg.InternalToken),
		EmbeddingModel: cfg.EmbeddingModel,
		EmbeddingDim:   cfg.EmbeddingDim,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		BatchSize:      cfg.EmbeddingBatchSize,
		Concurrency:    cfg.EmbeddingConcurrency,
	})
	if err != nil {
		logger.Error("failed to init app", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskQueue.Start(ctx, cfg.QueueConcurrency, appCore.Process)

	httpServer := server.New(server.Config{
		App:           appCore,
		InternalToken: cfg.InternalToken,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("indexer server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
		logger.Info("indexer server stopped")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}
