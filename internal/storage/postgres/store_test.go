package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketIndexer/internal/model"
)

// Set INDEXER_TEST_PG_DSN to a disposable database to run these tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("INDEXER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("INDEXER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStoreApplyTradeTwice(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	marketID := "pg-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	txHash := "0x" + marketID
	meta := model.EventMeta{ID: model.EventID(txHash, 0), ChainID: 1, TxHash: txHash, BlockNumber: 10, Timestamp: 1700000000}
	trade := model.ShareTrade{
		MarketID: marketID, Trader: "0xabc", Side: model.SideBuy, Outcome: model.OutcomeYes,
		Shares: "10", Amount: "6", YesPrice: "600000000000000000", NoPrice: "400000000000000000",
	}

	require.NoError(t, store.ApplyShareTrade(ctx, meta, trade))
	require.NoError(t, store.ApplyShareTrade(ctx, meta, trade))

	snapshot, err := store.GetMarketSnapshot(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, "6", snapshot.Volume)
	assert.Equal(t, uint64(1), snapshot.TradeCount)
	assert.Equal(t, "600000000000000000", snapshot.YesPrice)
	assert.Equal(t, model.MarketStatusActive, snapshot.Status)
}

func TestStoreLiquidityCommutesAndClaimsBumpBlock(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	marketID := "pg-liq-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	metaAt := func(tx string, block uint64) model.EventMeta {
		txHash := "0x" + tx + marketID
		return model.EventMeta{ID: model.EventID(txHash, 0), ChainID: 1, TxHash: txHash, BlockNumber: block, Timestamp: 1700000000}
	}

	require.NoError(t, store.ApplyLiquidityChange(ctx, metaAt("b", 101), model.LiquidityChange{
		MarketID: marketID, Provider: "0xp", Direction: model.LiquidityRemove, Amount: "400", LPTokens: "400",
	}))
	snapshot, err := store.GetMarketSnapshot(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, "0", snapshot.Liquidity)

	require.NoError(t, store.ApplyLiquidityChange(ctx, metaAt("a", 100), model.LiquidityChange{
		MarketID: marketID, Provider: "0xp", Direction: model.LiquidityAdd, Amount: "1000", LPTokens: "1000",
	}))
	require.NoError(t, store.ApplyWinningsClaimed(ctx, metaAt("c", 120), model.WinningsClaimed{
		MarketID: marketID, User: "0xu", Amount: "20",
	}))

	snapshot, err = store.GetMarketSnapshot(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, "600", snapshot.Liquidity)
	assert.Equal(t, uint64(120), snapshot.UpdatedBlock)
}

func TestStoreCursorNeverDecreases(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	chainID := uint64(time.Now().UnixNano() % 1_000_000_000)
	require.NoError(t, store.SetSyncCursor(ctx, chainID, 500))
	require.NoError(t, store.SetSyncCursor(ctx, chainID, 400))

	block, ok, err := store.GetSyncCursor(ctx, chainID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(500), block)
}
