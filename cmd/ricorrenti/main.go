package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ricorrenti/internal/cli"
	apphttp "ricorrenti/internal/http"
	"ricorrenti/internal/log"
	"ricorrenti/internal/worker"
)

// pinger is implemented by backends that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := cli.InitEngine(ctx, logger, cfg)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("Failed to release backend", log.FieldError, err)
		}
	}()

	opts := apphttp.Options{
		HorizonDays:        cfg.HorizonDays,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             log.FromContext(ctx).WithComponent(log.ComponentHTTP),
	}
	if p, ok := engine.Backend.Store.(pinger); ok {
		opts.Ready = p.Ping
	}

	srv := apphttp.NewServer(":"+cfg.Port, engine.Controller, opts)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting ricorrenti server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"horizon_days", cfg.HorizonDays)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Transactions written by recurring-worker reach this process as events.
	if engine.Backend.Events != nil {
		events := worker.NewEventWorker(engine.Controller)
		g.Go(func() error {
			return events.Run(gctx, engine.Backend.Events)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down ricorrenti server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
