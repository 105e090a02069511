package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/nftstake/service/config"
	"github.com/brojonat/nftstake/service/db"
	"github.com/brojonat/nftstake/service/metrics"
	"github.com/brojonat/nftstake/service/server"
	"github.com/brojonat/nftstake/service/staking"
	"github.com/brojonat/nftstake/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"program_id", cfg.ProgramID.String(),
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	stakingClient := staking.NewClient(staking.NewRPCClient(cfg.SolanaRPCURL), cfg.StakingClientConfig(), metricsCollector, logger)
	logger.Info("initialized staking client", "rpc_endpoint", cfg.RPCEndpoint())

	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	temporalClient.SetConfirmTiming(cfg.ConfirmPollInterval, cfg.ConfirmTimeout)

	// The event stream is optional; without NATS the SSE routes are not served.
	stream, err := server.NewEventStream(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("staking event stream unavailable, SSE disabled",
			"nats_url", cfg.NATSURL,
			"error", err,
		)
		stream = nil
	}

	httpServer := server.New(cfg.ServerAddr, stakingClient, store, temporalClient, stream, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.RPCEndpoint(),
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"sse_enabled", stream != nil,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
