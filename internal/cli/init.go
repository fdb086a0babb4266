// Package cli provides common CLI initialization utilities shared by
// cmd/ricorrenti and cmd/recurring-worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ricorrenti/internal/backend"
	"ricorrenti/internal/cache"
	"ricorrenti/internal/config"
	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
	"ricorrenti/internal/services"
)

// SetupLogger installs a text logger at the given level as the slog default.
func SetupLogger(level string) *slog.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger.Logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// Engine bundles the wired recurrence engine of one process.
type Engine struct {
	Backend     *backend.BackendResult
	Controller  *services.MutationController
	Projections *cache.LRUCache[[]core.Occurrence]
	caches      *cache.Manager
}

// Close stops cache cleanup and releases the backend resources.
func (e *Engine) Close() error {
	if e.caches != nil {
		e.caches.Stop()
	}
	if e.Backend != nil && e.Backend.Cleanup != nil {
		return e.Backend.Cleanup()
	}
	return nil
}

// InitEngine creates the configured backend and a controller over it.
// Returns the engine or exits the process on failure.
func InitEngine(ctx context.Context, logger *slog.Logger, cfg *config.Config) *Engine {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", backendCfg.Type)
		os.Exit(1)
	}

	projections := cache.NewLRUCache[[]core.Occurrence](cfg.CacheSize, cfg.CacheTTL)
	controller := services.NewMutationController(result.Store, result.Store, result.Publisher(), projections)

	caches := cache.NewManager()
	caches.Register(projections)
	caches.StartCleanup(cfg.CacheTTL)

	return &Engine{
		Backend:     result,
		Controller:  controller,
		Projections: projections,
		caches:      caches,
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
