// Companion web backend: sign-in, catalog proxy and chat initiation for UI surfaces.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/companion-web/internal/api"
	"github.com/ashureev/companion-web/internal/auth"
	"github.com/ashureev/companion-web/internal/chatstart"
	"github.com/ashureev/companion-web/internal/config"
	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/identity"
	"github.com/ashureev/companion-web/internal/middleware"
	"github.com/ashureev/companion-web/internal/store"
	"github.com/ashureev/companion-web/internal/surface"
	"github.com/ashureev/companion-web/internal/sweeper"
	"github.com/ashureev/companion-web/internal/upstream"
	"github.com/ashureev/companion-web/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	chats, err := upstream.NewChatService(cfg.Upstream.ChatServiceURL, cfg.Upstream.Timeout)
	if err != nil {
		slog.Error("Failed to initialize chat service client", "error", err)
		os.Exit(1)
	}
	profiles, err := upstream.NewProfileService(cfg.Upstream.ProfileServiceURL, cfg.Upstream.Timeout)
	if err != nil {
		slog.Error("Failed to initialize profile service client", "error", err)
		os.Exit(1)
	}
	authService, err := upstream.NewAuthService(cfg.Upstream.AuthServiceURL, cfg.Upstream.Timeout)
	if err != nil {
		slog.Error("Failed to initialize auth service client", "error", err)
		os.Exit(1)
	}
	slog.Info("Upstream clients initialized",
		"chat_service", cfg.Upstream.ChatServiceURL,
		"profile_service", cfg.Upstream.ProfileServiceURL,
		"auth_service", cfg.Upstream.AuthServiceURL)

	// Initialize services.
	tokens := identity.NewTokens(cfg.Secret)
	resolver := identity.NewResolver(repo, tokens)
	sm := surface.NewManager()

	// Initialize handlers.
	authHandler := auth.NewHandler(repo, tokens, authService, cfg)
	authHandler.SetSessionCloser(sm)
	apiHandler := api.NewHandler(repo, profiles, chats, api.Features{
		OAuthProvider:   authHandler.ProviderName(),
		TelegramEnabled: cfg.Telegram.Enabled(),
	})
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := surface.NewHandler(resolver, func(token string) chatstart.Transport {
		return upstream.NewChatTransport(chats, token)
	}, sm, surface.Options{
		AllowedOrigin:     cfg.FrontendURL,
		IsDev:             cfg.IsDevelopment(),
		TriggersPerMinute: cfg.RateLimit.TriggersPerMinute,
		ChatStartTimeout:  cfg.ChatStartTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(resolver))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		authHandler.RegisterRoutes(r)
		apiHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint; anonymous surfaces are allowed and get sign-in prompts.
	r.Get("/ws/ui", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket surfaces are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	sweeper.Start(ctx, repo, cfg.SweepInterval, func(s *domain.Session) {
		sm.CloseSession(s.SessionID)
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Hijacked websocket connections are not tracked by Shutdown.
	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
