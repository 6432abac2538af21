package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"accountlink/internal/shared/config"
	"accountlink/internal/shared/logger"
	"accountlink/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		Dev:   cfg.Logging.Dev,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  environment(cfg),
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Traces:       cfg.Telemetry.Enabled,
	}, zl)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zl.Error("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := NewDependencies(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.Scheduler.Start(); err != nil {
		return err
	}

	handler := SetupRoutes(deps, cfg, zl)
	errc := make(chan error, 1)
	srv, redirectSrv := StartServers(NewServerConfigFromConfig(handler, cfg), zl, errc)

	select {
	case <-ctx.Done():
	case err := <-errc:
		zl.Error("Server failed", zap.Error(err))
		GracefulShutdown(srv, redirectSrv, deps.Scheduler, 30*time.Second, zl)
		return err
	}

	GracefulShutdown(srv, redirectSrv, deps.Scheduler, 30*time.Second, zl)
	return nil
}

func environment(cfg *config.Config) string {
	if cfg.Logging.Dev {
		return "development"
	}
	return "production"
}
