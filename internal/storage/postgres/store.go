package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for market state. Every apply runs in
// one transaction keyed by the event's (tx_hash, log_index).
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.StateStore = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pg pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// apply records the event and runs fn in the same transaction, but only the
// first time the event is seen.
func (s *Store) apply(ctx context.Context, meta model.EventMeta, kind model.EventKind, marketID string, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO applied_events (tx_hash, log_index, chain_id, event_name, market_id, block_number, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			meta.TxHash,
			int64(meta.LogIndex),
			int64(meta.ChainID),
			string(kind),
			marketID,
			int64(meta.BlockNumber),
			meta.BlockTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("record event %s: %w", meta.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO markets (market_id) VALUES ($1)
			ON CONFLICT (market_id) DO NOTHING
		`, marketID); err != nil {
			return fmt.Errorf("ensure market %s: %w", marketID, err)
		}
		if err := fn(tx); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, meta.ID, err)
		}
		return nil
	})
}

func (s *Store) ApplyMarketCreated(ctx context.Context, meta model.EventMeta, p model.MarketCreated) error {
	return s.apply(ctx, meta, p.Kind(), p.MarketID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE markets SET
				question = $2,
				creator = $3,
				end_time = $4,
				liquidity = liquidity + $5,
				updated_block = GREATEST(updated_block, $6),
				updated_at = now()
			WHERE market_id = $1
		`,
			p.MarketID,
			p.Question,
			p.Creator,
			int64(p.EndTime),
			p.InitialLiquidity,
			int64(meta.BlockNumber),
		)
		return err
	})
}

func (s *Store) ApplyShareTrade(ctx context.Context, meta model.EventMeta, p model.ShareTrade) error {
	return s.apply(ctx, meta, p.Kind(), p.MarketID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			UPDATE markets SET
				volume = volume + $2,
				trade_count = trade_count + 1,
				yes_price = CASE WHEN (price_block, price_log_index) < ($3, $4) THEN $5::numeric ELSE yes_price END,
				no_price = CASE WHEN (price_block, price_log_index) < ($3, $4) THEN $6::numeric ELSE no_price END,
				price_block = CASE WHEN (price_block, price_log_index) < ($3, $4) THEN $3 ELSE price_block END,
				price_log_index = CASE WHEN (price_block, price_log_index) < ($3, $4) THEN $4 ELSE price_log_index END,
				updated_block = GREATEST(updated_block, $3),
				updated_at = now()
			WHERE market_id = $1
		`,
			p.MarketID,
			p.Amount,
			int64(meta.BlockNumber),
			int64(meta.LogIndex),
			p.YesPrice,
			p.NoPrice,
		)

		delta := p.Shares
		if p.Side == model.SideSell {
			delta = "-" + delta
		}
		yes, no := "0", "0"
		if p.Outcome == model.OutcomeYes {
			yes = delta
		} else {
			no = delta
		}
		batch.Queue(`
			INSERT INTO positions (market_id, account, yes_shares, no_shares)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (market_id, account) DO UPDATE SET
				yes_shares = positions.yes_shares + EXCLUDED.yes_shares,
				no_shares = positions.no_shares + EXCLUDED.no_shares,
				updated_at = now()
		`, p.MarketID, p.Trader, yes, no)

		blockTime := meta.BlockTime(time.Now())
		batch.Queue(`
			INSERT INTO transactions (tx_hash, log_index, kind, market_id, account, outcome, amount, shares, block_number, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			meta.TxHash,
			int64(meta.LogIndex),
			string(p.Kind()),
			p.MarketID,
			p.Trader,
			int16(p.Outcome),
			p.Amount,
			p.Shares,
			int64(meta.BlockNumber),
			blockTime,
		)
		batch.Queue(`
			INSERT INTO price_history (tx_hash, log_index, market_id, yes_price, no_price, block_number, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			meta.TxHash,
			int64(meta.LogIndex),
			p.MarketID,
			p.YesPrice,
			p.NoPrice,
			int64(meta.BlockNumber),
			blockTime,
		)
		return sendBatch(ctx, tx, batch)
	})
}

func (s *Store) ApplyLiquidityChange(ctx context.Context, meta model.EventMeta, p model.LiquidityChange) error {
	return s.apply(ctx, meta, p.Kind(), p.MarketID, func(tx pgx.Tx) error {
		amount, lp := p.Amount, p.LPTokens
		if p.Direction == model.LiquidityRemove {
			amount, lp = "-"+amount, "-"+lp
		}

		// Running sums stay signed so out-of-order retries commute. Reads clamp.
		batch := &pgx.Batch{}
		batch.Queue(`
			UPDATE markets SET
				liquidity = liquidity + $2,
				updated_block = GREATEST(updated_block, $3),
				updated_at = now()
			WHERE market_id = $1
		`, p.MarketID, amount, int64(meta.BlockNumber))
		batch.Queue(`
			INSERT INTO positions (market_id, account, lp_tokens)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (market_id, account) DO UPDATE SET
				lp_tokens = positions.lp_tokens + $3::numeric,
				updated_at = now()
		`, p.MarketID, p.Provider, lp)
		batch.Queue(`
			INSERT INTO transactions (tx_hash, log_index, kind, market_id, account, amount, shares, block_number, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			meta.TxHash,
			int64(meta.LogIndex),
			string(p.Kind()),
			p.MarketID,
			p.Provider,
			p.Amount,
			p.LPTokens,
			int64(meta.BlockNumber),
			meta.BlockTime(time.Now()),
		)
		return sendBatch(ctx, tx, batch)
	})
}

func (s *Store) ApplyMarketResolved(ctx context.Context, meta model.EventMeta, p model.MarketResolved) error {
	return s.apply(ctx, meta, p.Kind(), p.MarketID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE markets SET
				status = $2,
				winning_outcome = $3,
				updated_block = GREATEST(updated_block, $4),
				updated_at = now()
			WHERE market_id = $1
		`, p.MarketID, string(model.MarketStatusResolved), int16(p.WinningOutcome), int64(meta.BlockNumber))
		return err
	})
}

func (s *Store) ApplyWinningsClaimed(ctx context.Context, meta model.EventMeta, p model.WinningsClaimed) error {
	return s.apply(ctx, meta, p.Kind(), p.MarketID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			UPDATE markets SET updated_block = GREATEST(updated_block, $2), updated_at = now()
			WHERE market_id = $1
		`, p.MarketID, int64(meta.BlockNumber))
		batch.Queue(`
			INSERT INTO positions (market_id, account, claimed)
			VALUES ($1, $2, $3)
			ON CONFLICT (market_id, account) DO UPDATE SET
				claimed = positions.claimed + EXCLUDED.claimed,
				updated_at = now()
		`, p.MarketID, p.User, p.Amount)
		batch.Queue(`
			INSERT INTO transactions (tx_hash, log_index, kind, market_id, account, amount, block_number, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			meta.TxHash,
			int64(meta.LogIndex),
			string(p.Kind()),
			p.MarketID,
			p.User,
			p.Amount,
			int64(meta.BlockNumber),
			meta.BlockTime(time.Now()),
		)
		return sendBatch(ctx, tx, batch)
	})
}

// GetSyncCursor returns the cursor for a chain.
func (s *Store) GetSyncCursor(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT cursor_block FROM sync_state WHERE chain_id=$1`, int64(chainID))
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load sync cursor: %w", err)
	}
	return uint64(block), true, nil
}

// SetSyncCursor upserts the cursor. A lower block never overwrites a higher one.
func (s *Store) SetSyncCursor(ctx context.Context, chainID uint64, block uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (chain_id, cursor_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chain_id) DO UPDATE
		SET cursor_block = GREATEST(sync_state.cursor_block, EXCLUDED.cursor_block), updated_at = now()
	`, int64(chainID), int64(block))
	if err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}

func (s *Store) GetMarketSnapshot(ctx context.Context, marketID string) (model.MarketSnapshot, error) {
	var (
		snapshot     model.MarketSnapshot
		status       string
		endTime      int64
		tradeCount   int64
		updatedBlock int64
		winning      *int16
	)
	row := s.pool.QueryRow(ctx, `
		SELECT market_id, question, creator, status, end_time,
			yes_price::text, no_price::text, volume::text, GREATEST(liquidity, 0)::text,
			trade_count, winning_outcome, updated_block
		FROM markets WHERE market_id = $1
	`, marketID)
	err := row.Scan(
		&snapshot.MarketID,
		&snapshot.Question,
		&snapshot.Creator,
		&status,
		&endTime,
		&snapshot.YesPrice,
		&snapshot.NoPrice,
		&snapshot.Volume,
		&snapshot.Liquidity,
		&tradeCount,
		&winning,
		&updatedBlock,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MarketSnapshot{}, fmt.Errorf("market %s: %w", marketID, storage.ErrNotFound)
		}
		return model.MarketSnapshot{}, fmt.Errorf("load market %s: %w", marketID, err)
	}

	snapshot.Status = model.MarketStatus(status)
	snapshot.EndTime = uint64(endTime)
	snapshot.TradeCount = uint64(tradeCount)
	snapshot.UpdatedBlock = uint64(updatedBlock)
	if winning != nil {
		outcome := model.Outcome(*winning)
		snapshot.WinningOutcome = &outcome
	}
	return snapshot, nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
