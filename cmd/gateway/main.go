package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/campusgate/internal/attempts"
	"github.com/BradenHooton/campusgate/internal/background"
	"github.com/BradenHooton/campusgate/internal/config"
	"github.com/BradenHooton/campusgate/internal/credential"
	"github.com/BradenHooton/campusgate/internal/database"
	"github.com/BradenHooton/campusgate/internal/handlers"
	"github.com/BradenHooton/campusgate/internal/login"
	middlewareCustom "github.com/BradenHooton/campusgate/internal/middleware"
	"github.com/BradenHooton/campusgate/internal/repositories"
	"github.com/BradenHooton/campusgate/internal/routes"
	"github.com/BradenHooton/campusgate/internal/session"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
	evbus "github.com/asaskevich/EventBus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "campusgate:attempts:"
	sessionKeyPrefix = "campusgate:session:"
)

// healthCheck reports whether one backing store is reachable
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.LoadGateway()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("lockout_backend", cfg.Lockout.Backend),
		slog.String("session_backend", cfg.Session.Backend),
		slog.String("session_broadcast", cfg.Session.Broadcast))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []healthCheck

	// Redis is shared by every backend that asks for it
	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = database.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		checks = append(checks, healthCheck{name: "redis", check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	// Attempt tracker
	trackerOpts := []attempts.Option{}
	switch cfg.Lockout.Backend {
	case config.BackendRedis:
		trackerOpts = append(trackerOpts, attempts.WithJournal(attempts.NewRedisJournal(redisClient, attemptKeyPrefix)))
	case config.BackendPostgres:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		trackerOpts = append(trackerOpts, attempts.WithJournal(repositories.NewAttemptRecordRepository(db)))
		checks = append(checks, healthCheck{name: "database", check: db.HealthCheck})
	}

	tracker := attempts.NewTracker(cfg.Lockout.Policy, logger, trackerOpts...)
	if err := tracker.Restore(ctx); err != nil {
		logger.Error("failed to restore attempt records", slog.Any("error", err))
		os.Exit(1)
	}

	// Session registry
	// The refresh cookie of each browser lives next to its snapshot so
	// that every gateway instance sharing the backend presents the same one
	memoryPersistence := session.NewMemoryPersistence()
	var persistence session.Persistence = memoryPersistence
	var cookieStore credential.CookieStore = memoryPersistence
	if cfg.Session.Backend == config.BackendRedis {
		redisPersistence := session.NewRedisPersistence(redisClient, sessionKeyPrefix, cfg.Session.SnapshotTTL, cfg.Session.PendingTTL)
		persistence = redisPersistence
		cookieStore = redisPersistence
	}

	broadcaster, closeBroadcaster, err := newBroadcaster(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to start session broadcaster", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeBroadcaster()

	registry := session.NewRegistry(session.RegistryConfig{
		NewCredentials: func(browser string) (session.CredentialService, error) {
			jar := credential.NewStoredJar(browser, cookieStore, logger)
			return credential.NewClient(cfg.Credential.BaseURL, cfg.Credential.Timeout, nil, jar, logger)
		},
		Persistence: persistence,
		Broadcaster: broadcaster,
		Logger:      logger,
	})

	// Handlers
	orchestrator := login.NewOrchestrator(tracker, logger)
	portalHandler := handlers.NewPortalHandler(
		orchestrator,
		tracker,
		registry,
		handlers.SessionCookies{Secure: cfg.Session.CookieSecure},
		logger,
	)

	// Housekeeping
	cleanupManager := background.NewCleanupManager(logger,
		background.Task{
			Name:     "attempt_records",
			Interval: cfg.Lockout.PruneInterval,
			Run: func(ctx context.Context) (int64, error) {
				return int64(tracker.Prune(ctx, cfg.Lockout.Retention)), nil
			},
		},
		background.Task{
			Name:     "idle_sessions",
			Interval: cfg.Session.SweepInterval,
			Run: func(ctx context.Context) (int64, error) {
				return int64(registry.Sweep(cfg.Session.StoreIdleLimit)), nil
			},
		},
	)

	// Client addresses are taken from forwarding headers only when the
	// peer is a configured proxy
	clientIP, err := cfg.Server.ClientIPResolver()
	if err != nil {
		logger.Error("invalid trusted proxies", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, clientIP))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterGatewayRoutes(router, portalHandler, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.LoginRateLimit,
		ClientIP:          clientIP,
	}, logger)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy"}
		code := http.StatusOK
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				status[c.name] = "down"
				status["status"] = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			status[c.name] = "up"
		}
		pkghttp.WriteJSON(w, code, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go cleanupManager.Start(ctx)

	// Start server
	go func() {
		logger.Info("starting gateway", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}

func needsRedis(cfg *config.GatewayConfig) bool {
	return cfg.Lockout.Backend == config.BackendRedis ||
		cfg.Session.Backend == config.BackendRedis ||
		cfg.Session.Broadcast == config.BackendRedis
}

// newBroadcaster returns the cross-tab broadcaster and its cleanup func
func newBroadcaster(ctx context.Context, cfg *config.GatewayConfig, client *redis.Client, logger *slog.Logger) (session.Broadcaster, func(), error) {
	if cfg.Session.Broadcast == config.BackendRedis {
		b, err := session.NewRedisBroadcaster(ctx, client, "", logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	}

	b, err := session.NewEventBusBroadcaster(evbus.New())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event bus broadcaster: %w", err)
	}
	return b, func() {}, nil
}
