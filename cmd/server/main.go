// skyblockd - auction feed aggregation and re-serving daemon
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/skyblockd/skyblockd/internal/api"
	"github.com/skyblockd/skyblockd/internal/config"
	"github.com/skyblockd/skyblockd/internal/gateway"
	"github.com/skyblockd/skyblockd/internal/ingest"
	"github.com/skyblockd/skyblockd/internal/itemcodec"
	"github.com/skyblockd/skyblockd/internal/middleware"
	"github.com/skyblockd/skyblockd/internal/players"
	"github.com/skyblockd/skyblockd/internal/store"
	"github.com/skyblockd/skyblockd/internal/upstream"
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

	dispatcher := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.DispatcherCooldown)
	defer dispatcher.Close()

	// The operating credential must validate at startup; an unusable key
	// makes the whole ingest side dead on arrival.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	valid, err := dispatcher.ValidateKey(startupCtx, cfg.UpstreamAPIKey)
	cancelStartup()
	if err != nil || !valid {
		slog.Error("Upstream API key validation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Upstream API key validated")

	directory := players.NewManager(cfg.PlayerDBBaseURL)
	decoder := itemcodec.New()

	// Start the sync engine.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := ingest.New(dispatcher, repo, cfg.ReloadWorkers)
	go engine.Run(ctx, cfg.SyncInterval, cfg.FullReloadInterval)
	slog.Info("Sync engine started",
		"sync_interval", cfg.SyncInterval, "full_reload_interval", cfg.FullReloadInterval)

	// Initialize handlers.
	table := gateway.NewTable(cfg.SessionRemovalTimeout)
	gw := gateway.New(repo, dispatcher, directory, decoder, table, gateway.Settings{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdentifyTimeout:   cfg.IdentifyTimeout,
	}, cfg.FrontendURL, cfg.IsDevelopment())
	handler := api.NewHandler(repo, directory, decoder)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/server", gw.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket sessions are long-lived
		IdleTimeout:  120 * time.Second,
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
