package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"marketIndexer/internal/ingest"
	"marketIndexer/internal/orchestrator"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL     string
	Contract   string
	Collateral string
	ChainID    uint64
	// StartBlock is nil unless start-block was set explicitly.
	StartBlock    *uint64
	Confirmations uint64

	MaxRetries          int
	RetryDelay          time.Duration
	BatchSize           int
	BatchInterval       time.Duration
	MaxConcurrentEvents int
	EventCacheSize      int
	CatchUpThreshold    uint64
	RetentionWindow     time.Duration
	SyncInterval        time.Duration
	CleanupInterval     time.Duration
	ReconnectDelay      time.Duration
	MaxReconnectDelay   time.Duration
	QueryChunkSize      uint64
	QueryTimeout        time.Duration
	QueryRetries        int
	FailedCapacity      int
	FailedArchive       string

	HealthInterval  time.Duration
	MaxQueueDepth   int
	ShutdownTimeout time.Duration

	PGDSN      string
	CursorFile string
	Listen     string
	JWTSecret  string
	SendBuffer int
	LogLevel   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	pipeline := ingest.DefaultConfig()
	orch := orchestrator.DefaultConfig()
	v.SetDefault("confirmations", uint64(0))
	v.SetDefault("max-retries", pipeline.MaxRetries)
	v.SetDefault("retry-delay", pipeline.RetryDelay)
	v.SetDefault("batch-size", pipeline.BatchSize)
	v.SetDefault("batch-interval", pipeline.BatchInterval)
	v.SetDefault("max-concurrent-events", pipeline.MaxConcurrentEvents)
	v.SetDefault("event-cache-size", pipeline.EventCacheSize)
	v.SetDefault("catch-up-threshold", pipeline.CatchUpThreshold)
	v.SetDefault("retention-window", pipeline.RetentionWindow)
	v.SetDefault("sync-interval", pipeline.SyncInterval)
	v.SetDefault("cleanup-interval", pipeline.CleanupInterval)
	v.SetDefault("reconnect-delay", pipeline.ReconnectDelay)
	v.SetDefault("max-reconnect-delay", pipeline.MaxReconnectDelay)
	v.SetDefault("query-chunk-size", pipeline.QueryChunkSize)
	v.SetDefault("query-timeout", pipeline.QueryTimeout)
	v.SetDefault("query-retries", pipeline.QueryRetries)
	v.SetDefault("failed-capacity", pipeline.FailedCapacity)
	v.SetDefault("failed-archive", "./data/failed_events.jsonl")
	v.SetDefault("health-interval", orch.HealthInterval)
	v.SetDefault("max-queue-depth", orch.MaxQueueDepth)
	v.SetDefault("shutdown-timeout", orch.ShutdownTimeout)
	v.SetDefault("cursor-file", "./data/cursor.json")
	v.SetDefault("listen", ":8080")
	v.SetDefault("send-buffer", 64)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:              strings.TrimSpace(v.GetString("rpc")),
		Contract:            strings.TrimSpace(v.GetString("contract")),
		Collateral:          strings.TrimSpace(v.GetString("collateral")),
		ChainID:             v.GetUint64("chain-id"),
		Confirmations:       v.GetUint64("confirmations"),
		MaxRetries:          v.GetInt("max-retries"),
		RetryDelay:          v.GetDuration("retry-delay"),
		BatchSize:           v.GetInt("batch-size"),
		BatchInterval:       v.GetDuration("batch-interval"),
		MaxConcurrentEvents: v.GetInt("max-concurrent-events"),
		EventCacheSize:      v.GetInt("event-cache-size"),
		CatchUpThreshold:    v.GetUint64("catch-up-threshold"),
		RetentionWindow:     v.GetDuration("retention-window"),
		SyncInterval:        v.GetDuration("sync-interval"),
		CleanupInterval:     v.GetDuration("cleanup-interval"),
		ReconnectDelay:      v.GetDuration("reconnect-delay"),
		MaxReconnectDelay:   v.GetDuration("max-reconnect-delay"),
		QueryChunkSize:      v.GetUint64("query-chunk-size"),
		QueryTimeout:        v.GetDuration("query-timeout"),
		QueryRetries:        v.GetInt("query-retries"),
		FailedCapacity:      v.GetInt("failed-capacity"),
		FailedArchive:       v.GetString("failed-archive"),
		HealthInterval:      v.GetDuration("health-interval"),
		MaxQueueDepth:       v.GetInt("max-queue-depth"),
		ShutdownTimeout:     v.GetDuration("shutdown-timeout"),
		PGDSN:               v.GetString("pg-dsn"),
		CursorFile:          v.GetString("cursor-file"),
		Listen:              v.GetString("listen"),
		JWTSecret:           v.GetString("jwt-secret"),
		SendBuffer:          v.GetInt("send-buffer"),
		LogLevel:            v.GetString("log-level"),
	}
	if v.IsSet("start-block") {
		start := v.GetUint64("start-block")
		cfg.StartBlock = &start
	}

	return cfg, nil
}

// Validate reports every problem that would stop the indexer from starting.
func (c Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc url is required"))
	}
	if c.Contract == "" {
		errs = append(errs, errors.New("contract address is required"))
	} else if !common.IsHexAddress(c.Contract) {
		errs = append(errs, fmt.Errorf("invalid contract address: %s", c.Contract))
	}
	if c.Collateral != "" && !common.IsHexAddress(c.Collateral) {
		errs = append(errs, fmt.Errorf("invalid collateral address: %s", c.Collateral))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("chain id is required"))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, errors.New("max-retries must be greater than zero"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch-size must be greater than zero"))
	}
	if c.MaxConcurrentEvents <= 0 {
		errs = append(errs, errors.New("max-concurrent-events must be greater than zero"))
	}
	if c.EventCacheSize <= 0 {
		errs = append(errs, errors.New("event-cache-size must be greater than zero"))
	}
	if c.QueryChunkSize == 0 {
		errs = append(errs, errors.New("query-chunk-size must be greater than zero"))
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		errs = append(errs, errors.New("max-reconnect-delay must not be below reconnect-delay"))
	}
	for name, d := range map[string]time.Duration{
		"retry-delay":      c.RetryDelay,
		"batch-interval":   c.BatchInterval,
		"sync-interval":    c.SyncInterval,
		"cleanup-interval": c.CleanupInterval,
		"health-interval":  c.HealthInterval,
		"query-timeout":    c.QueryTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Pipeline projects the ingestion settings.
func (c Config) Pipeline() ingest.Config {
	return ingest.Config{
		ChainID:             c.ChainID,
		StartBlock:          c.StartBlock,
		Confirmations:       c.Confirmations,
		MaxRetries:          c.MaxRetries,
		RetryDelay:          c.RetryDelay,
		BatchSize:           c.BatchSize,
		BatchInterval:       c.BatchInterval,
		MaxConcurrentEvents: c.MaxConcurrentEvents,
		EventCacheSize:      c.EventCacheSize,
		CatchUpThreshold:    c.CatchUpThreshold,
		RetentionWindow:     c.RetentionWindow,
		SyncInterval:        c.SyncInterval,
		CleanupInterval:     c.CleanupInterval,
		ReconnectDelay:      c.ReconnectDelay,
		MaxReconnectDelay:   c.MaxReconnectDelay,
		QueryChunkSize:      c.QueryChunkSize,
		QueryTimeout:        c.QueryTimeout,
		QueryRetries:        c.QueryRetries,
		FailedCapacity:      c.FailedCapacity,
	}
}

// Orchestrator projects the lifecycle settings.
func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		ChainID:         c.ChainID,
		HealthInterval:  c.HealthInterval,
		MaxQueueDepth:   c.MaxQueueDepth,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}
