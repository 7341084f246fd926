package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amplify-platform/authd/internal/config"
	"github.com/amplify-platform/authd/internal/database"
	"github.com/amplify-platform/authd/internal/handlers"
	"github.com/amplify-platform/authd/internal/logging"
	"github.com/amplify-platform/authd/internal/middleware"
	"github.com/amplify-platform/authd/internal/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("Starting token authority...")

	// Connect to PostgreSQL
	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	// Run migrations
	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN(), "migrations")
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()

	// Connect to Redis
	logger.Info("Connecting to Redis", map[string]interface{}{
		"addr": cfg.Redis.Addr(),
	})
	redisDB, err := database.NewRedisDB(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()

	// Core services
	dbAdapter := services.NewPoolAdapter(db.Pool)
	redisAdapter := services.NewRedisAdapter(redisDB.Client)

	store := services.NewTokenStore(dbAdapter)
	cache := services.NewTokenCache(redisAdapter, cfg.Auth.CacheTTL)
	revoked := services.NewRevocationSet(redisAdapter)
	validator := services.NewValidator(store, cache, revoked, logger)
	processor := services.NewCommandProcessor(store, cache, revoked, redisAdapter, logger, cfg.Auth.CommandWait)

	// The single writer. Every create/revoke/extend in the fleet funnels
	// through this one goroutine.
	processor.Start()
	defer processor.Stop()

	// Warm the cache before accepting traffic so a restart does not turn
	// into a thundering herd of store reads.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := validator.WarmCache(warmCtx); err != nil {
		logger.Warn("Cache warm failed; lazy misses will repopulate", map[string]interface{}{
			"error": err.Error(),
		})
	}
	warmCancel()

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, redisDB, processor)
	validateHandler := handlers.NewValidateHandler(validator, logger)
	tokenHandler := handlers.NewTokenHandler(processor, store, logger)

	// Middleware
	adminAuth := middleware.NewAdminAuth(cfg.Auth.AdminToken, cfg.Auth.AdminTokenHash)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Server.Secure)
	requestLogger := middleware.NewRequestLogger(logger)

	requireAdmin := adminAuth.Require

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	// Validation endpoint: the hot path, called by every downstream service
	mux.HandleFunc("POST /auth/validate", validateHandler.Validate)

	// Token management endpoints (admin credential required)
	mux.Handle("POST /auth/tokens", requireAdmin(http.HandlerFunc(tokenHandler.Create)))
	mux.Handle("GET /auth/tokens", requireAdmin(http.HandlerFunc(tokenHandler.List)))
	mux.Handle("GET /auth/tokens/{id}", requireAdmin(http.HandlerFunc(tokenHandler.Get)))
	mux.Handle("POST /auth/tokens/{id}/revoke", requireAdmin(http.HandlerFunc(tokenHandler.Revoke)))
	mux.Handle("POST /auth/tokens/{id}/extend", requireAdmin(http.HandlerFunc(tokenHandler.Extend)))

	// Middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = securityHeaders.Apply(handler)
	handler = requestLogger.Apply(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{
		"addr": addr,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}
