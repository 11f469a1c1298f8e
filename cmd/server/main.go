// KarirConnect points service - points ledger and payment reconciliation
package main

import (
	"context"
	"os"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/config"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/logging"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/server"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/traces"
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

	logger.Info("starting karirconnect points service",
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
		"gateway", cfg.Gateway,
	)

	ctx := context.Background()

	// Tracing
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(ctx) }()

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
