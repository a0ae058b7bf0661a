package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/service"
)

// batchRunner is the slice of pipeline.Worker the schedule needs.
type batchRunner interface {
	ProcessBatch(ctx context.Context, limit int) (domain.BatchResult, error)
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire services")
	}
	defer svc.Close()

	if err := run(ctx, svc.Worker, cfg.Worker, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// run triggers one batch immediately and then once per interval until ctx
// ends. Jobs still in flight at shutdown are recorded as failed and can be
// retried.
func run(ctx context.Context, worker batchRunner, cfg infra.WorkerConfig, logger infra.Logger) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger.Info().Dur("interval", interval).Int("batch_limit", cfg.BatchLimit).Msg("worker: started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := worker.ProcessBatch(ctx, cfg.BatchLimit)
		if err != nil {
			logger.Error().Err(err).Msg("worker: batch failed")
		} else if res.Processed == 0 {
			logger.Debug().Msg("worker: no queued jobs")
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
