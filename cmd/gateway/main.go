package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/api"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/cache"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/config"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/health"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/httputil"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/provider"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/ratelimit"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/router"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting gateway", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "claude-router", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	routingData, err := os.ReadFile(cfg.RoutingConfigPath)
	if err != nil {
		slog.Error("failed to read routing config", "path", cfg.RoutingConfigPath, "error", err)
		os.Exit(1)
	}
	reg, table, err := registry.Load(routingData)
	if err != nil {
		slog.Error("invalid routing config", "error", err)
		os.Exit(1)
	}
	slog.Info("routing config loaded", "providers", len(reg.Profiles()), "routes", len(table.Routes))

	hc := httputil.StreamingClient()
	clients := make(map[string]provider.Client, len(reg.Profiles()))
	for _, profile := range reg.Profiles() {
		client, err := provider.NewClient(profile, hc, cfg.MaxTries)
		if err != nil {
			slog.Error("failed to build provider client", "provider", profile.ID, "error", err)
			os.Exit(1)
		}
		clients[profile.ID] = client
		slog.Info("registered provider", "provider", profile.ID, "protocol", string(profile.Protocol))
	}

	var monitorOpts []health.MonitorOption
	if cfg.UseDistributedHealth && cfg.RedisURL != "" {
		monitorOpts = append(monitorOpts, health.WithRedis(cfg.RedisURL))
		slog.Info("using distributed health breakers")
	}
	monitor := health.NewMonitor(reg, health.DefaultConfig(), monitorOpts...)
	go monitor.Run(ctx, 10*time.Second)

	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimitRPM > 0 {
		if cfg.RedisURL != "" {
			rateLimiter, err = ratelimit.NewRedisRateLimiter(cfg.RedisURL)
			if err != nil {
				slog.Error("failed to connect to redis", "error", err)
				os.Exit(1)
			}
			slog.Info("using redis rate limiter")
		} else {
			rateLimiter = ratelimit.NewInMemoryRateLimiter()
			slog.Info("using in-memory rate limiter")
		}
	}

	var responseCache cache.Cache
	if cfg.RedisURL != "" {
		responseCache, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			responseCache = cache.NewInMemoryCache()
		} else {
			slog.Info("using redis cache")
		}
	} else {
		responseCache = cache.NewInMemoryCache()
		slog.Info("using in-memory cache")
	}

	handler := api.NewHandler(api.HandlerConfig{
		Router:         router.New(reg, table),
		Registry:       reg,
		Clients:        clients,
		Health:         monitor,
		RateLimiter:    rateLimiter,
		RateLimitRPM:   cfg.RateLimitRPM,
		Cache:          responseCache,
		CacheTTL:       cfg.CacheTTL,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: it would cut long event streams short. Streaming
		// deadlines come from the request context.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Give load balancers time to stop sending traffic before closing
	// listeners, then let in-flight requests finish within the shutdown
	// budget.
	time.Sleep(cfg.DrainTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
