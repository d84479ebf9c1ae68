package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/hiroq/mail-relay/internal/config"
	"github.com/hiroq/mail-relay/internal/health"
	"github.com/hiroq/mail-relay/internal/logger"
	"github.com/hiroq/mail-relay/internal/metrics"
	relaymw "github.com/hiroq/mail-relay/internal/middleware"
	"github.com/hiroq/mail-relay/internal/notify"
	"github.com/hiroq/mail-relay/internal/parser"
	"github.com/hiroq/mail-relay/internal/relay"
	"github.com/hiroq/mail-relay/internal/router"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup structured logging
	appLogger := logger.New(logger.DefaultConfig())
	slog.SetDefault(appLogger)

	// Setup routing table
	routeStore, routePinger, err := setupRouteStore(cfg)
	if err != nil {
		log.Fatalf("Failed to set up routing table: %v", err)
	}

	// Initialize pipeline components
	formParser := parser.New(parser.Options{
		TextLimit:  cfg.Relay.TextLimit,
		SpamMarker: cfg.Relay.SpamMarker,
	})
	builder := notify.NewBuilder(notify.Options{
		SpamThreshold: cfg.Relay.SpamScoreThreshold,
		Username:      cfg.Relay.Username,
		AvatarURL:     cfg.Relay.AvatarURL,
	})
	dispatcher := router.NewDispatcher(routeStore, nil, appLogger)

	relayHandler := relay.NewHandler(relay.Config{
		Parser:         formParser,
		Builder:        builder,
		Dispatcher:     dispatcher,
		Logger:         appLogger,
		MaxUploadBytes: cfg.Relay.MaxUploadBytes,
	})

	var rateLimiter func(next http.Handler) http.Handler
	if cfg.Relay.RateLimit > 0 {
		rateLimiter = relaymw.NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateWindow).Handler
	}

	healthHandler := health.NewHandler(health.Config{
		RouteStore: routePinger,
		Version:    version,
	})

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(relaymw.StructuredLogger(appLogger))
	r.Use(metrics.Middleware)

	// CORS for the read-only operational endpoints
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))

	// Health and metrics endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Inbound relay endpoint
	relay.RegisterRoutes(r, relayHandler, rateLimiter)

	// Create server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.Info("starting server", slog.String("addr", addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("server exited")
}

// setupRouteStore selects the routing table backend: Redis when REDIS_ADDR
// is set, otherwise the static YAML file. The second return value is the
// pinger used by the health endpoints; static tables return nil.
func setupRouteStore(cfg *config.Config) (router.RouteStore, health.Pinger, error) {
	if cfg.Routes.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Routes.RedisAddr,
			Password: cfg.Routes.RedisPassword,
			DB:       cfg.Routes.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}

		store := router.NewRedisStore(client, cfg.Routes.KeyPrefix)
		slog.Info("routing table backed by redis", slog.String("addr", cfg.Routes.RedisAddr))
		return store, store, nil
	}

	store, err := router.LoadStaticStore(cfg.Routes.File)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("routing table loaded from file", slog.String("path", cfg.Routes.File))
	return store, nil, nil
}
