package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x1111111111111111111111111111111111111111"

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("rpc", "", "")
	fs.String("contract", "", "")
	fs.Uint64("chain-id", 0, "")
	fs.Uint64("start-block", 0, "")
	fs.Duration("retry-delay", 2*time.Second, "")
	fs.String("log-level", "info", "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)

	cfg, err = Load("", flagSet())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.BatchInterval)
	assert.Equal(t, 10, cfg.MaxConcurrentEvents)
	assert.Equal(t, 1000, cfg.EventCacheSize)
	assert.Equal(t, uint64(100), cfg.CatchUpThreshold)
	assert.Equal(t, 24*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, 10*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Nil(t, cfg.StartBlock)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "indexer.yaml")
	require.NoError(t, os.WriteFile(file, []byte("rpc: ws://file:8546\nchain-id: 1\nbatch-size: 50\n"), 0o644))
	t.Setenv("INDEXER_CHAIN_ID", "31337")
	t.Setenv("INDEXER_MAX_CONCURRENT_EVENTS", "4")

	fs := flagSet()
	require.NoError(t, fs.Parse([]string{"--contract", contract, "--start-block", "0", "--retry-delay", "3s"}))

	cfg, err := Load(file, fs)
	require.NoError(t, err)
	assert.Equal(t, "ws://file:8546", cfg.RPCURL)
	assert.Equal(t, uint64(31337), cfg.ChainID)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 4, cfg.MaxConcurrentEvents)
	assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	require.NotNil(t, cfg.StartBlock)
	assert.Equal(t, uint64(0), *cfg.StartBlock)
	require.NoError(t, cfg.Validate())

	pipeline := cfg.Pipeline()
	assert.Equal(t, uint64(31337), pipeline.ChainID)
	assert.Equal(t, cfg.StartBlock, pipeline.StartBlock)
	assert.Equal(t, uint64(31337), cfg.Orchestrator().ChainID)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Load("", flagSet())
	require.NoError(t, err)
	cfg.Contract = "not-an-address"
	cfg.BatchSize = 0
	cfg.LogLevel = "loud"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"rpc url is required", "invalid contract address", "chain id is required", "batch-size", "invalid log level"} {
		assert.Contains(t, err.Error(), want)
	}
}
