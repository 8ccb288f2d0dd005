package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heronlabs/heron/service/config"
	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/engine"
	"github.com/heronlabs/heron/service/keys"
	"github.com/heronlabs/heron/service/ledger"
	"github.com/heronlabs/heron/service/metrics"
	natspkg "github.com/heronlabs/heron/service/nats"
	"github.com/heronlabs/heron/service/registry"
	"github.com/heronlabs/heron/service/server"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"mainnet", cfg.Mainnet(),
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize key management
	keyring, err := keys.NewKeyring(cfg.WalletEncryptionKey, cfg.Mainnet())
	if err != nil {
		logger.Error("failed to initialize keyring", "error", err)
		os.Exit(1)
	}

	// Initialize ledger data provider
	chainClient, err := ledger.NewBlockfrostClient(cfg.BlockfrostProjectID, cfg.CustomBlockfrostURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize chain client", "error", err)
		os.Exit(1)
	}

	// Initialize NATS lifecycle event publisher
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize CIP-10 metadata label registry. A failed initial load is
	// not fatal: the registry accepts all labels until loaded and the
	// background refresh keeps trying.
	labelRegistry := registry.New(cfg.RegistryURL, logger)
	if err := labelRegistry.Load(ctx); err != nil {
		logger.Warn("initial metadata registry load failed", "error", err)
	}
	go labelRegistry.Run(ctx, cfg.RegistryRefresh)

	// Initialize the transaction engine
	cache := engine.NewBalanceCache(chainClient, cfg.CacheTTL, metricsCollector, logger)
	assembler := engine.NewAssembler(cache, chainClient, ledger.NewCardanoCodec(), metricsCollector, logger)
	processor := engine.NewProcessor(store, cache, assembler, chainClient, keyring, publisher,
		metricsCollector, logger, cfg.MaxRetries, cfg.RetryRefreshDelay)
	supervisor := engine.NewSupervisor(store, processor, metricsCollector, logger, cfg.QueueDepth)

	// Start per-wallet workers and re-enqueue anything left queued by a
	// previous run.
	if err := supervisor.Start(ctx); err != nil {
		logger.Error("failed to start transaction supervisor", "error", err)
		os.Exit(1)
	}
	defer supervisor.Stop()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, store, keyring, supervisor, cache, chainClient,
		labelRegistry, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"registry_url", cfg.RegistryURL,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
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
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
