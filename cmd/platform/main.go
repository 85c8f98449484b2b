// Package main boots the agent-chat HTTP service and wires application dependencies.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/agent-chat/internal/chat"
	"github.com/easeaico/agent-chat/internal/config"
	"github.com/easeaico/agent-chat/internal/handler"
	"github.com/easeaico/agent-chat/internal/memory"
	"github.com/easeaico/agent-chat/internal/registry"
	"github.com/easeaico/agent-chat/internal/storage"
	"github.com/easeaico/agent-chat/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "http_addr", cfg.HTTPAddr, "log_level", cfg.LogLevel, "redis", cfg.RedisAddr != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		slog.Info("database migrated", "dialect", store.Dialect())
	}

	embedders := memory.NewAgentEmbedders(store, memory.NewEmbedder, cfg.EmbeddingDimensions)
	memoryStore := memory.NewStore(store.MemoryItems, store.Vectors, embedders, cfg.MemoryMinScore)

	reg := registry.New()
	var interrupter chat.Interrupter
	if cfg.RedisAddr != "" {
		bus, err := registry.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel, reg)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer func() {
			if err := bus.Close(); err != nil {
				slog.Warn("failed to close redis bus", "error", err.Error())
			}
		}()
		go func() {
			if err := bus.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("interrupt bus stopped", "error", err.Error())
			}
		}()
		interrupter = bus
	}

	pool := worker.NewPool(worker.Config{
		Workers:       cfg.WorkerCount,
		QueueSize:     cfg.WorkerQueueSize,
		MaxConcurrent: cfg.WorkerMaxConcurrent,
		JobTimeout:    worker.DefaultConfig().JobTimeout,
	})
	defer func() {
		if err := pool.Shutdown(shutdownTimeout); err != nil {
			slog.Warn("worker pool shutdown incomplete", "error", err.Error())
		}
	}()

	service := chat.NewService(chat.Deps{
		Sessions:    store.Sessions,
		Agents:      store.Agents,
		Messages:    store.Messages,
		Memory:      memoryStore,
		Registry:    reg,
		Interrupter: interrupter,
		Pool:        pool,
		Hooks:       chat.LoggingHooks{},
	}, chat.Options{
		StreamTimeout: cfg.StreamTimeout,
		MemoryTopK:    cfg.MemoryTopK,
		MaxToolRounds: cfg.MaxToolRounds,
	})

	if cfg.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	health := func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return err
		}
		return pool.Check(ctx)
	}
	router := handler.NewRouter(handler.RouterConfig{
		Chat:    handler.NewChatHandler(service, cfg.StreamWaitTimeout),
		Limiter: handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Health:  health,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err.Error())
	}
	slog.Info("shutdown complete", "live_streams", reg.Len())
}
