package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serpassist/internal/ratelimit"
	"serpassist/internal/util"
	"serpassist/pkg/ai"
	"serpassist/pkg/cache"
	"serpassist/pkg/storage"
	"serpassist/pkg/store"
	"serpassist/services/assistant/internal/app"
	"serpassist/services/assistant/internal/config"
	"serpassist/services/assistant/internal/server"
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

	var moduleCache cache.Cache
	if cfg.RedisAddr != "" {
		moduleCache, err = cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.CachePrefix,
		})
		if err != nil {
			logger.Error("failed to init redis cache", "err", err)
			os.Exit(1)
		}
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Error("failed to init object store", "err", err)
			os.Exit(1)
		}
	}

	appCore, err := app.New(app.Config{
		Store:           st,
		Provider:        provider,
		Cache:           moduleCache,
		Objects:         objects,
		GenerationModel: cfg.GenerationModel,
		HistoryLimit:    cfg.HistoryLimit,
	})
	if err != nil {
		logger.Error("failed to init app", "err", err)
		os.Exit(1)
	}

	var chatLimiter server.Limiter
	if cfg.RedisAddr != "" && cfg.ChatRateLimit > 0 {
		window := time.Duration(cfg.ChatRateWindowSeconds) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		chatLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "serpassist:ratelimit", cfg.ChatRateLimit, window)
		if err != nil {
			logger.Error("failed to init rate limiter", "err", err)
			os.Exit(1)
		}
	}

	httpServer := server.New(server.Config{App: appCore, ChatLimiter: chatLimiter})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("assistant server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
		logger.Info("assistant server stopped")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}
