package main

import (
	"context"
	"time"

	"ricorrenti/internal/cli"
	"ricorrenti/internal/log"
	"ricorrenti/internal/services"
	"ricorrenti/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger("info")
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel)

	engine := cli.InitEngine(context.Background(), logger, cfg)
	if engine.Backend.Events == nil {
		logger.Info("AMQP disabled - API processes see new transactions only after their projection cache expires")
	}

	processor := worker.NewProcessorWorker(
		services.NewRecurringProcessor(engine.Controller),
		worker.ProcessorConfig{Interval: cfg.RecurringProcessorInterval},
	)
	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringProcessorInterval,
		"backend", cfg.DataBackend)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := processor.Stop(stopCtx); err != nil {
			logger.Warn("Recurring processor did not stop cleanly", log.FieldError, err)
		}
		if err := engine.Close(); err != nil {
			logger.Error("Failed to release backend", log.FieldError, err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start recurring processor", log.FieldError, err)
		_ = engine.Close()
		return
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker stopped")
}
