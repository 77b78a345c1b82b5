// Walletguard - Fraud scoring and account protection for wallet transactions
package main

import (
	"context"
	"os"

	"github.com/moneysq/walletguard/internal/config"
	"github.com/moneysq/walletguard/internal/logging"
	"github.com/moneysq/walletguard/internal/server"
	"github.com/moneysq/walletguard/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting walletguard",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"soft_velocity", cfg.SoftVelocityThreshold,
		"hard_velocity", cfg.HardVelocityThreshold,
		"confirmation_timeout", cfg.ConfirmationTimeout,
	)

	ctx := context.Background()

	// Distributed tracing (no-op when no OTLP endpoint is configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
