package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/modelfleet/sentinel/internal/api"
	"github.com/modelfleet/sentinel/internal/config"
	"github.com/modelfleet/sentinel/internal/failover"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Getenv("SENTINEL_CONFIG"))
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	registry := prometheus.NewRegistry()

	system, err := failover.NewSystem(cfg.Failover, registry, logger)
	if err != nil {
		logger.Fatal("build failover system", zap.Error(err))
	}
	if err := system.Initialize(); err != nil {
		logger.Fatal("initialize failover system", zap.Error(err))
	}

	server := api.NewServer(&cfg, logger, system, registry)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		if err := system.Shutdown(); err != nil {
			logger.Error("system shutdown", zap.Error(err))
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
