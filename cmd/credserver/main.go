package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/background"
	"github.com/BradenHooton/campusgate/internal/config"
	"github.com/BradenHooton/campusgate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/campusgate/internal/middleware"
	"github.com/BradenHooton/campusgate/internal/repositories"
	"github.com/BradenHooton/campusgate/internal/routes"
	"github.com/BradenHooton/campusgate/internal/services"
	pkgauth "github.com/BradenHooton/campusgate/pkg/auth"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.LoadCredentialServer()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if cfg.Challenge.FixedCode != "" {
		logger.Warn("fixed one-time code enabled; every login accepts it")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	directory, err := services.LoadDirectory(cfg.Directory.Path, pkgauth.BcryptCost, logger)
	if err != nil {
		logger.Error("failed to load user directory", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("user directory loaded", slog.Int("users", directory.Len()))

	// Code delivery
	var sender services.CodeSender = services.NewLogCodeSender(logger)
	if cfg.Email.Provider == "ses" {
		sender, err = services.NewSESCodeSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	}

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	challenges := auth.NewChallengeManager(auth.ChallengeConfig{
		TTL:       cfg.Challenge.TTL,
		MaxTries:  cfg.Challenge.MaxTries,
		FixedCode: cfg.Challenge.FixedCode,
	}, nil)
	revokeRepo := repositories.NewTokenRevocationRepository()
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Timing.BaseDelayMs,
		RandomDelayMs:  cfg.Timing.RandomDelayMs,
		DelayOnSuccess: cfg.Timing.DelayOnSuccess,
	})

	credentialService := services.NewCredentialService(directory, challenges, tokenManager, revokeRepo, sender, timingDelay, logger)
	credentialHandler := handlers.NewCredentialHandler(credentialService, auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "lax",
	}, logger)

	// Housekeeping
	cleanupManager := background.NewCleanupManager(logger,
		background.Task{
			Name:     "revoked_tokens",
			Interval: cfg.Auth.CleanupInterval,
			Run:      revokeRepo.CleanupExpiredTokens,
		},
		background.Task{
			Name:     "login_challenges",
			Interval: cfg.Challenge.TTL,
			Run: func(ctx context.Context) (int64, error) {
				return int64(challenges.Cleanup()), nil
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
	router.Use(middlewareCustom.SecureLogger(logger, clientIP))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterCredentialRoutes(router, credentialHandler, tokenManager, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.LoginRateLimit,
		ClientIP:          clientIP,
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
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
		logger.Info("starting credential server", slog.String("addr", server.Addr))
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

	logger.Info("credential server stopped gracefully")
}
