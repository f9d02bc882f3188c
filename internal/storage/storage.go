package storage

import (
	"context"
	"errors"

	"marketIndexer/internal/model"
)

// ErrNotFound is returned when a requested aggregate does not exist.
var ErrNotFound = errors.New("not found")

// StateStore is the durable side of the ingestion pipeline. Every Apply
// method is idempotent by meta.ID: re-applying an event that was already
// committed is a no-op that returns nil.
type StateStore interface {
	ApplyMarketCreated(ctx context.Context, meta model.EventMeta, p model.MarketCreated) error
	ApplyShareTrade(ctx context.Context, meta model.EventMeta, p model.ShareTrade) error
	ApplyLiquidityChange(ctx context.Context, meta model.EventMeta, p model.LiquidityChange) error
	ApplyMarketResolved(ctx context.Context, meta model.EventMeta, p model.MarketResolved) error
	ApplyWinningsClaimed(ctx context.Context, meta model.EventMeta, p model.WinningsClaimed) error

	// GetSyncCursor returns the highest fully applied block for chainID.
	GetSyncCursor(ctx context.Context, chainID uint64) (uint64, bool, error)
	// SetSyncCursor persists block unless a higher cursor is already stored.
	SetSyncCursor(ctx context.Context, chainID uint64, block uint64) error

	GetMarketSnapshot(ctx context.Context, marketID string) (model.MarketSnapshot, error)
	Ping(ctx context.Context) error
}
