package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolgated/internal/config"
	"github.com/haasonsaas/toolgated/internal/gateway"
)

const shutdownTimeout = 30 * time.Second

// runServe loads configuration, brings the gateway up, and blocks until a
// shutdown signal arrives or a component fails.
func runServe(cmd *cobra.Command, configPath string, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	logger := newServeLogger(level)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded",
		"ws_port", cfg.Server.WSPort,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Auth.Mode,
	)

	gw, err := gateway.New(cfg, logger, gateway.Options{})
	if err != nil {
		return fmt.Errorf("construct gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	logger.Info("gateway started",
		"ws_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WSPort),
		"http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		"grpc_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
