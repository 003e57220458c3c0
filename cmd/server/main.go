// HydraFlow - hydration tracker and assistant server
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

	"github.com/ashureev/hydraflow/internal/api"
	"github.com/ashureev/hydraflow/internal/chat"
	"github.com/ashureev/hydraflow/internal/config"
	"github.com/ashureev/hydraflow/internal/hydration"
	"github.com/ashureev/hydraflow/internal/identity"
	"github.com/ashureev/hydraflow/internal/metrics"
	"github.com/ashureev/hydraflow/internal/middleware"
	"github.com/ashureev/hydraflow/internal/notify"
	"github.com/ashureev/hydraflow/internal/prefs"
	"github.com/ashureev/hydraflow/internal/reminder"
	"github.com/ashureev/hydraflow/internal/store"
	"github.com/ashureev/hydraflow/internal/sweep"
	"github.com/ashureev/hydraflow/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DB.Driver)

	// Initialize dependencies.
	dsn := cfg.DB.Path
	if cfg.DB.Driver == "postgres" {
		dsn = cfg.DB.URL
	}
	repo, err := store.Open(cfg.DB.Driver, dsn,
		store.WithRetry(cfg.Retry.DatabaseMaxRetries, cfg.Retry.DatabaseRetryBaseDelay))
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

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("Failed to resolve timezone", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.CredentialSecret == "" {
		slog.Warn("CREDENTIAL_SECRET not set, stored API keys will not survive a restart")
	}
	sealer, err := prefs.NewSealer(cfg.Auth.CredentialSecret)
	if err != nil {
		slog.Error("Failed to initialize credential sealer", "error", err)
		os.Exit(1)
	}
	prefService := prefs.NewService(repo, sealer, cfg.Chat.DefaultModel)

	rec := metrics.New()

	hub := notify.NewHub(cfg.Timeout.EventWrite)
	hub.OnDeliver(rec.Delivered)

	// Reminders run only while the user has the app open.
	present := func(userID string) bool { return hub.Connections(userID) > 0 }

	reminders := reminder.NewManager(hub,
		reminder.WithDefaultInterval(cfg.Reminder.DefaultInterval),
		reminder.WithMessage(cfg.Reminder.Message),
		reminder.WithAlertHook(rec.ReminderAlert),
		reminder.WithPresence(present),
	)

	trackers := hydration.NewService(repo, hub, hydration.WithLocation(loc), hydration.WithPresence(present))
	trackers.OnSettingsChange(reminders.Sync)
	hub.OnPresence(reminders.PresenceHook(trackers.Settings, 10*time.Second))

	counter, err := chat.NewTokenCounter()
	if err != nil {
		slog.Warn("Tokenizer unavailable, estimating history size", "error", err)
	}
	completer := chat.NewOpenAICompleter(cfg.Chat.BaseURL, cfg.Chat.RequestTimeout)
	bridge := chat.NewBridge(completer, counter, chat.Config{
		EnvAPIKey:         cfg.Chat.APIKey,
		Temperature:       cfg.Chat.Temperature,
		MaxTokens:         cfg.Chat.MaxTokens,
		HistoryTokenLimit: cfg.Chat.HistoryTokenLimit,
	})
	bridge.OnOutcome(rec.ChatOutcome)
	if cfg.Chat.APIKey == "" {
		slog.Info("OPENAI_API_KEY not set, users must supply their own key for the assistant")
	}

	rec.Gauges(trackers.Active, reminders.Active, hub.Total)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	chatLimit := middleware.RateLimit(limiter,
		func(r *http.Request) string {
			if id := identity.UserIDFromContext(r.Context()); id != "" {
				return id
			}
			return identity.IPFromRequest(r)
		},
		func(*http.Request) { rec.ChatRejected("rate_limited") },
	)

	// Initialize handlers.
	handler := api.NewHandler(api.Deps{
		Repo:      repo,
		Trackers:  trackers,
		Prefs:     prefService,
		Chat:      bridge,
		Reminders: reminders,
		Events:    hub,
		Metrics:   rec,
		Config:    cfg,
	})
	healthHandler := api.NewHealthHandler(repo, cfg)
	wsHandler := notify.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", rec.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS([]string{"*"}))
		r.Use(identity.Middleware(repo, identity.Options{
			JWTSecret: cfg.Auth.JWTSecret,
			IsDev:     cfg.IsDevelopment(),
		}))

		handler.RegisterRoutes(r, chatLimit)

		// WebSocket endpoint for toasts and reminder alerts.
		r.Get("/ws/events", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweep.StartTTLWorker(ctx, sweep.DefaultInterval, cfg.TrackerTTL, sweep.Targets{
		Trackers:      trackers,
		Conversations: bridge,
		RateLimits:    limiter,
		OnEvict:       reminders.Stop,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	reminders.Close()
	hub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	trackers.Close()

	slog.Info("Server stopped successfully")
}
