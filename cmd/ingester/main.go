package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/trendsift/trendsift/internal/config"
	"github.com/trendsift/trendsift/internal/firehose"
	"github.com/trendsift/trendsift/internal/opsserver"
	"github.com/trendsift/trendsift/internal/pipeline"
	"github.com/trendsift/trendsift/internal/postgres"
	"github.com/trendsift/trendsift/internal/sentiment"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Pipeline.SkipMigrations {
		if err := postgres.ApplyMigrations(cfg.Database.URL(), cfg.Pipeline.MigrationsPath); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	repo, err := postgres.NewRepository(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stream, err := firehose.Connect(ctx, cfg.Firehose.URL, logger.Named("firehose"))
	if err != nil {
		return fmt.Errorf("connect firehose: %w", err)
	}
	defer stream.Close()

	// A stop signal closes the stream so a blocked websocket read returns.
	stopClose := context.AfterFunc(ctx, func() { stream.Close() })
	defer stopClose()

	counters := &pipeline.Counters{}
	persister := pipeline.NewPersister(repo, cfg.Pipeline.BatchSize, counters, logger.Named("persister"))
	driver := pipeline.NewDriver(
		stream,
		repo.FetchKeywords,
		sentiment.Vader,
		persister,
		cfg.Pipeline.RefreshInterval(),
		counters,
		logger.Named("pipeline"),
	)

	ops := opsserver.NewServer(cfg.Ops.Port, counters.Snapshot, logger.Named("ops"))
	go func() {
		if err := ops.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server exited with error", zap.Error(err))
		}
	}()

	runErr := driver.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down ops server", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("pipeline: %w", runErr)
	}
	logger.Info("shutdown complete")
	return nil
}
