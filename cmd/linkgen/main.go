package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/avolkov/market-linkgen/internal/alerts"
	"github.com/avolkov/market-linkgen/internal/api"
	"github.com/avolkov/market-linkgen/internal/breaker"
	"github.com/avolkov/market-linkgen/internal/browserpool"
	"github.com/avolkov/market-linkgen/internal/config"
	"github.com/avolkov/market-linkgen/internal/linkgen"
	"github.com/avolkov/market-linkgen/internal/pacing"
	"github.com/avolkov/market-linkgen/internal/proxy"
	"github.com/avolkov/market-linkgen/internal/replay"
	"github.com/avolkov/market-linkgen/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis carries breaker trip alerts; the service runs without it
	// only if the ping fails at startup.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var notifier breaker.Notifier = breaker.NopNotifier{}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, breaker alerts disabled", "error", err)
	} else {
		notifier = alerts.NewRedisNotifier(redisClient, cfg.Redis.AlertChannel, logger)
	}

	selector := proxy.NewSelector(cfg.Proxy.List, proxy.Options{
		Cooldown:       cfg.Proxy.Cooldown,
		MinSuccessRate: cfg.Proxy.MinSuccessRate,
		MinSamples:     cfg.Proxy.MinSamples,
		ProbeURL:       cfg.Proxy.ProbeURL,
		ProbeTimeout:   cfg.Proxy.ProbeTimeout,
	}, logger)

	pool, err := browserpool.New(browserpool.Options{
		Headless:        cfg.Browser.Headless,
		PoolSize:        cfg.Browser.PoolSize,
		ContextTTL:      cfg.Browser.ContextTTL,
		ContextMaxUses:  cfg.Browser.ContextMaxUses,
		StorageStateDir: cfg.Browser.StorageStateDir,
		Locale:          cfg.Browser.Locale,
		TimezoneID:      cfg.Browser.TimezoneID,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize browser pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cache := replay.NewCache(cfg.Replay.MaxEntries, cfg.Replay.TTL, cfg.Replay.SnapshotPath)
	if err := cache.Load(); err != nil {
		logger.Warn("failed to load replay snapshot", "error", err)
	}
	defer func() {
		if err := cache.Save(); err != nil {
			logger.Warn("failed to save replay snapshot", "error", err)
		}
	}()

	debugDir := ""
	if cfg.Debug.Enabled {
		debugDir = cfg.Debug.Dir
	}
	engine := linkgen.NewEngine(pool, cache, selector,
		pacing.New(time.Second, 3*time.Second),
		linkgen.Options{
			DebugDir:   debugDir,
			NavTimeout: cfg.Browser.NavTimeout,
		}, logger)

	brk := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.OpenDuration, notifier, logger)

	svc := service.New(engine, brk, service.Options{
		Workers:       cfg.Workers.Count,
		JobTimeout:    cfg.Workers.JobTimeout,
		GracePeriod:   cfg.Workers.GraceBuffer,
		ResultTTL:     cfg.Workers.ResultTTL,
		CleanupPeriod: cfg.Workers.ReapInterval,
		QueueCapacity: cfg.Workers.QueueCapacity,
	}, logger)
	defer svc.Close()

	// Periodic proxy health checks reactivate endpoints that recovered.
	if len(cfg.Proxy.List) > 0 {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					selector.HealthCheck(ctx)
				}
			}
		}()
	}

	handlers := api.NewHandlers(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handlers.Routes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("link generation service listening", "addr", server.Addr, "workers", cfg.Workers.Count)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
