package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"marketIndexer/internal/broadcast"
	"marketIndexer/internal/config"
	"marketIndexer/internal/ingest"
	"marketIndexer/internal/orchestrator"
	"marketIndexer/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Prediction market event indexer and live update server",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index market events and serve live updates",
		RunE:  runIndexer,
	}
	addChainFlags(runCmd.Flags())
	addPipelineFlags(runCmd.Flags())
	runCmd.Flags().String("listen", ":8080", "HTTP listen address")
	runCmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (empty allows guests only)")
	runCmd.Flags().Int("send-buffer", 64, "outbound messages buffered per connection")
	runCmd.Flags().Duration("health-interval", orchestrator.DefaultConfig().HealthInterval, "health check interval")
	runCmd.Flags().Int("max-queue-depth", orchestrator.DefaultConfig().MaxQueueDepth, "queue depth above which the system is degraded")
	runCmd.Flags().Duration("shutdown-timeout", orchestrator.DefaultConfig().ShutdownTimeout, "bounded wait for in-flight events on shutdown")
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Apply a historical block range and exit",
		RunE:  runBackfill,
	}
	addChainFlags(backfillCmd.Flags())
	addPipelineFlags(backfillCmd.Flags())
	backfillCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	backfillCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest confirmed")
	root.AddCommand(backfillCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(fs *pflag.FlagSet) {
	fs.String("rpc", "", "RPC URL with subscription support (ws:// or ipc)")
	fs.String("contract", "", "prediction market contract address")
	fs.String("collateral", "", "collateral ERC-20 address used to format amounts")
	fs.Uint64("chain-id", 0, "expected chain id")
	fs.Uint64("start-block", 0, "first block to index when no cursor is stored")
	fs.Uint64("confirmations", 0, "blocks to stay behind the chain tip")
	fs.String("pg-dsn", "", "Postgres DSN (empty uses the in-memory store)")
	fs.String("cursor-file", "./data/cursor.json", "cursor file for the in-memory store")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addPipelineFlags(fs *pflag.FlagSet) {
	d := ingest.DefaultConfig()
	fs.Int("max-retries", d.MaxRetries, "attempts before an event is dead-lettered")
	fs.Duration("retry-delay", d.RetryDelay, "base retry delay, multiplied by the attempt count")
	fs.Int("batch-size", d.BatchSize, "events processed per batch")
	fs.Duration("batch-interval", d.BatchInterval, "queue drain interval")
	fs.Int("max-concurrent-events", d.MaxConcurrentEvents, "markets processed in parallel")
	fs.Int("event-cache-size", d.EventCacheSize, "recently seen event ids kept for dedup")
	fs.Uint64("catch-up-threshold", d.CatchUpThreshold, "lag in blocks that triggers a catch-up backfill")
	fs.Duration("retention-window", d.RetentionWindow, "how long dead letters are kept")
	fs.Duration("sync-interval", d.SyncInterval, "catch-up check interval")
	fs.Duration("cleanup-interval", d.CleanupInterval, "dead letter sweep interval")
	fs.Duration("reconnect-delay", d.ReconnectDelay, "first reconnect delay after a lost subscription")
	fs.Duration("max-reconnect-delay", d.MaxReconnectDelay, "reconnect delay ceiling")
	fs.Uint64("query-chunk-size", d.QueryChunkSize, "blocks per historical log query")
	fs.Duration("query-timeout", d.QueryTimeout, "timeout per historical query")
	fs.Int("query-retries", d.QueryRetries, "retries per historical query")
	fs.Int("failed-capacity", d.FailedCapacity, "dead letters kept in memory")
	fs.String("failed-archive", "./data/failed_events.jsonl", "JSONL file receiving swept dead letters")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}

	auth := broadcast.NewAuthenticator(cfg.JWTSecret)
	svc := broadcast.NewService(auth, logger,
		broadcast.WithMetrics(deps.metrics),
		broadcast.WithSnapshots(orchestrator.MarketSnapshots(deps.store, deps.collateral)),
	)

	orch, err := orchestrator.New(cfg.Orchestrator(), deps.ledger, deps.pipeline, svc, deps.store, logger,
		orchestrator.WithMetrics(deps.metrics),
		orchestrator.WithCloser(deps.close),
	)
	if err != nil {
		deps.close()
		return err
	}

	wsCfg := broadcast.DefaultWSConfig()
	wsCfg.SendBuffer = cfg.SendBuffer
	router := server.NewRouter(orch, auth, broadcast.NewHandler(svc, wsCfg, logger), deps.metrics.Handler(), logger)

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", cfg.Contract),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("listen", cfg.Listen),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(gctx, cfg.Listen, router, logger)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexer stopped: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
