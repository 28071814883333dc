package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chat_gateway/internal/auth"
	"chat_gateway/internal/catalog"
	"chat_gateway/internal/config"
	"chat_gateway/internal/dispatcher"
	"chat_gateway/internal/httpapi"
	"chat_gateway/internal/logging"
	"chat_gateway/internal/providers"
	"chat_gateway/internal/queue"
	"chat_gateway/internal/ratelimit"
	"chat_gateway/internal/storage"
	"chat_gateway/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger := utils.NewLogger("server")

	ctx := context.Background()

	// Database
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Model catalog
	cat := catalog.Default()
	if cfg.Dispatch.CatalogPath != "" {
		cat, err = catalog.Load(cfg.Dispatch.CatalogPath)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
	}
	logger.Info("Model catalog loaded", "models", len(cat.Models()), "fallbacks", len(cat.GlobalFallback()))

	// Upstream. Without an API key the server still starts and chat
	// requests fail until one is configured.
	var (
		upstream providers.ChatCompleter
		lister   providers.ModelLister
	)
	openRouter, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
		APIKey:   cfg.OpenRouter.APIKey,
		BaseURL:  cfg.OpenRouter.BaseURL,
		SiteURL:  cfg.OpenRouter.SiteURL,
		SiteName: cfg.OpenRouter.SiteName,
	})
	switch {
	case errors.Is(err, providers.ErrMissingCredentials):
		logger.Warn("OPENROUTER_API_KEY is not set, chat requests will fail")
	case err != nil:
		log.Fatalf("Failed to initialize OpenRouter client: %v", err)
	default:
		upstream, lister = openRouter, openRouter
	}

	chatDispatcher := dispatcher.New(cat, upstream, dispatcher.Config{
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		Deadline:       cfg.Dispatch.Deadline,
	})

	// Redis is optional; without it queues and limits stay in process
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = queue.NewRedisClient(queue.RedisOptions{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer redisClient.Close()
	}

	// Usage accounting
	usageQueueCfg := queue.DefaultConfig("usage")
	usageQueueCfg.BatchSize = cfg.UsageQueue.BatchSize
	usageQueueCfg.BatchTimeout = cfg.UsageQueue.BatchTimeout
	usageQueueCfg.MaxRetries = cfg.UsageQueue.MaxRetries
	usageQueueCfg.RetryBackoff = cfg.UsageQueue.RetryBackoff

	usageQueue, usageDLQ := queue.New(redisClient, usageQueueCfg)
	usageWorker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, db.NewUsageRepository(), usageQueueCfg)
	usageWorker.Start(ctx)

	// Rate limiting
	var chatLimiter ratelimit.Limiter
	if redisClient != nil {
		rl := ratelimit.NewRateLimiter(redisClient, ratelimit.WithKeyPrefix("ratelimit:chat"))
		chatLimiter = ratelimit.NewRedisLimiter(rl, cfg.RateLimit.ChatPerMinute)
	} else {
		chatLimiter = ratelimit.NewLocalLimiter(cfg.RateLimit.ChatPerMinute, time.Minute)
	}

	// Access log
	var accessLog *logging.AccessLogger
	if cfg.AccessLog.FileTemplate != "" {
		accessLog, err = logging.NewAccessLogger(logging.AccessLogConfig{
			FileTemplate:  cfg.AccessLog.FileTemplate,
			MaxSize:       cfg.AccessLog.MaxSize,
			MaxFiles:      cfg.AccessLog.MaxFiles,
			BufferSize:    cfg.AccessLog.BufferSize,
			FlushInterval: cfg.AccessLog.FlushInterval,
		})
		if err != nil {
			log.Fatalf("Failed to initialize access log: %v", err)
		}
	}

	sessions, err := auth.NewSessionManager(cfg.AuthSecret, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("Failed to initialize sessions: %v", err)
	}

	handler := httpapi.NewRouter(&httpapi.Dependencies{
		Auth:          auth.NewAuthenticator(db.NewUserRepository()),
		Sessions:      sessions,
		Conversations: db.NewConversationRepository(),
		Dispatcher:    chatDispatcher,
		Catalog:       cat,
		ModelLister:   lister,
		ModelsCache:   storage.NewLRUCache[[]providers.RemoteModel](1, cfg.Cache.ModelsTTL),
		Usage:         usageWorker,
		ChatLimiter:   chatLimiter,
		AccessLog:     accessLog,
		SecureCookies: cfg.SecureCookies,
		Logger:        utils.NewLogger("httpapi"),
	})

	// Create HTTP server. The write timeout leaves room for a full
	// fallback sequence.
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Chat API listening", "addr", addr, "database", cfg.Database.Driver, "redis", cfg.Redis.Enabled())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Flush queued usage records before the database goes away
	if err := usageWorker.Stop(); err != nil {
		logger.Error("Failed to stop usage worker", "error", err)
	}
	if err := usageQueue.Close(); err != nil {
		logger.Warn("Failed to close usage queue", "error", err)
	}
	if err := usageDLQ.Close(); err != nil {
		logger.Warn("Failed to close usage dead letter queue", "error", err)
	}

	if accessLog != nil {
		accessLog.Shutdown()
	}

	logger.Info("Server exited")
}
