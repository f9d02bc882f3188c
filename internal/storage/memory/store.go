// Package memory is an in-process StateStore. It backs tests and the
// backfill command when no Postgres DSN is configured.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

// EvenPrice is the price of both outcomes before the first trade.
const EvenPrice = "500000000000000000"

type marketState struct {
	snapshot  model.MarketSnapshot
	priceAt   model.EventMeta
	hasPrice  bool
	positions map[string]*model.Position
}

// Store keeps market state in memory. Cursors optionally persist to a file.
type Store struct {
	mu           sync.RWMutex
	applied      map[string]struct{}
	markets      map[string]*marketState
	transactions []model.TransactionRecord
	prices       map[string][]model.PricePoint
	cursors      map[uint64]uint64

	cursorFile *cursorFile
}

var _ storage.StateStore = (*Store)(nil)

// New returns an empty store. A non-empty cursorPath persists sync cursors
// across restarts.
func New(cursorPath string) (*Store, error) {
	s := &Store{
		applied: make(map[string]struct{}),
		markets: make(map[string]*marketState),
		prices:  make(map[string][]model.PricePoint),
		cursors: make(map[uint64]uint64),
	}
	if cursorPath != "" {
		s.cursorFile = newCursorFile(cursorPath)
		cursors, err := s.cursorFile.Load()
		if err != nil {
			return nil, err
		}
		for chainID, block := range cursors {
			s.cursors[chainID] = block
		}
	}
	return s, nil
}

func (s *Store) ApplyMarketCreated(_ context.Context, meta model.EventMeta, p model.MarketCreated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(meta.ID) {
		return nil
	}

	m := s.market(p.MarketID)
	m.snapshot.Question = p.Question
	m.snapshot.Creator = p.Creator
	m.snapshot.EndTime = p.EndTime
	m.snapshot.Liquidity = addAmount(m.snapshot.Liquidity, p.InitialLiquidity)
	m.snapshot.UpdatedBlock = maxBlock(m.snapshot.UpdatedBlock, meta.BlockNumber)
	return nil
}

func (s *Store) ApplyShareTrade(_ context.Context, meta model.EventMeta, p model.ShareTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(meta.ID) {
		return nil
	}

	m := s.market(p.MarketID)
	m.snapshot.Volume = addAmount(m.snapshot.Volume, p.Amount)
	m.snapshot.TradeCount++
	m.snapshot.UpdatedBlock = maxBlock(m.snapshot.UpdatedBlock, meta.BlockNumber)
	if !m.hasPrice || m.priceAt.Before(meta) {
		m.snapshot.YesPrice = p.YesPrice
		m.snapshot.NoPrice = p.NoPrice
		m.priceAt = meta
		m.hasPrice = true
	}

	pos := m.position(p.MarketID, p.Trader)
	delta := p.Shares
	if p.Side == model.SideSell {
		delta = negate(delta)
	}
	if p.Outcome == model.OutcomeYes {
		pos.YesShares = addAmount(pos.YesShares, delta)
	} else {
		pos.NoShares = addAmount(pos.NoShares, delta)
	}

	outcome := p.Outcome
	s.transactions = append(s.transactions, model.TransactionRecord{
		EventID:     meta.ID,
		Kind:        p.Kind(),
		MarketID:    p.MarketID,
		Account:     p.Trader,
		Outcome:     &outcome,
		Amount:      p.Amount,
		Shares:      p.Shares,
		BlockNumber: meta.BlockNumber,
		LogIndex:    meta.LogIndex,
	})
	s.prices[p.MarketID] = append(s.prices[p.MarketID], model.PricePoint{
		EventID:     meta.ID,
		MarketID:    p.MarketID,
		YesPrice:    p.YesPrice,
		NoPrice:     p.NoPrice,
		BlockNumber: meta.BlockNumber,
		LogIndex:    meta.LogIndex,
		Timestamp:   meta.Timestamp,
	})
	return nil
}

func (s *Store) ApplyLiquidityChange(_ context.Context, meta model.EventMeta, p model.LiquidityChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(meta.ID) {
		return nil
	}

	// Sums stay signed so a removal applied before its deposit commutes.
	amount, lp := p.Amount, p.LPTokens
	if p.Direction == model.LiquidityRemove {
		amount, lp = negate(amount), negate(lp)
	}

	m := s.market(p.MarketID)
	m.snapshot.Liquidity = addAmount(m.snapshot.Liquidity, amount)
	m.snapshot.UpdatedBlock = maxBlock(m.snapshot.UpdatedBlock, meta.BlockNumber)

	pos := m.position(p.MarketID, p.Provider)
	pos.LPTokens = addAmount(pos.LPTokens, lp)

	s.transactions = append(s.transactions, model.TransactionRecord{
		EventID:     meta.ID,
		Kind:        p.Kind(),
		MarketID:    p.MarketID,
		Account:     p.Provider,
		Amount:      p.Amount,
		Shares:      p.LPTokens,
		BlockNumber: meta.BlockNumber,
		LogIndex:    meta.LogIndex,
	})
	return nil
}

func (s *Store) ApplyMarketResolved(_ context.Context, meta model.EventMeta, p model.MarketResolved) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(meta.ID) {
		return nil
	}

	m := s.market(p.MarketID)
	outcome := p.WinningOutcome
	m.snapshot.Status = model.MarketStatusResolved
	m.snapshot.WinningOutcome = &outcome
	m.snapshot.UpdatedBlock = maxBlock(m.snapshot.UpdatedBlock, meta.BlockNumber)
	return nil
}

func (s *Store) ApplyWinningsClaimed(_ context.Context, meta model.EventMeta, p model.WinningsClaimed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(meta.ID) {
		return nil
	}

	m := s.market(p.MarketID)
	m.snapshot.UpdatedBlock = maxBlock(m.snapshot.UpdatedBlock, meta.BlockNumber)
	pos := m.position(p.MarketID, p.User)
	pos.Claimed = addAmount(pos.Claimed, p.Amount)

	s.transactions = append(s.transactions, model.TransactionRecord{
		EventID:     meta.ID,
		Kind:        p.Kind(),
		MarketID:    p.MarketID,
		Account:     p.User,
		Amount:      p.Amount,
		BlockNumber: meta.BlockNumber,
		LogIndex:    meta.LogIndex,
	})
	return nil
}

func (s *Store) GetSyncCursor(_ context.Context, chainID uint64) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[chainID]
	return block, ok, nil
}

func (s *Store) SetSyncCursor(_ context.Context, chainID uint64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.cursors[chainID]; ok && current >= block {
		return nil
	}
	s.cursors[chainID] = block
	if s.cursorFile != nil {
		if err := s.cursorFile.Save(s.cursors); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetMarketSnapshot(_ context.Context, marketID string) (model.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return model.MarketSnapshot{}, fmt.Errorf("market %s: %w", marketID, storage.ErrNotFound)
	}
	snapshot := m.snapshot
	snapshot.Liquidity = floorZero(snapshot.Liquidity)
	if snapshot.WinningOutcome != nil {
		outcome := *snapshot.WinningOutcome
		snapshot.WinningOutcome = &outcome
	}
	return snapshot, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Transactions returns applied ledger rows in commit order.
func (s *Store) Transactions() []model.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TransactionRecord, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// PriceHistory returns a market's price points ordered by ledger position.
func (s *Store) PriceHistory(marketID string) []model.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PricePoint, len(s.prices[marketID]))
	copy(out, s.prices[marketID])
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// Position returns an account's holdings in a market.
func (s *Store) Position(marketID, account string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return model.Position{}, false
	}
	pos, ok := m.positions[account]
	if !ok {
		return model.Position{}, false
	}
	out := *pos
	out.LPTokens = floorZero(out.LPTokens)
	return out, true
}

// AppliedCount returns the number of distinct events committed.
func (s *Store) AppliedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.applied)
}

func (s *Store) claim(id string) bool {
	if _, ok := s.applied[id]; ok {
		return false
	}
	s.applied[id] = struct{}{}
	return true
}

// market returns the market state, creating a placeholder for markets whose
// creation predates the indexed range.
func (s *Store) market(id string) *marketState {
	m, ok := s.markets[id]
	if !ok {
		m = &marketState{
			snapshot: model.MarketSnapshot{
				MarketID:  id,
				Status:    model.MarketStatusActive,
				YesPrice:  EvenPrice,
				NoPrice:   EvenPrice,
				Volume:    "0",
				Liquidity: "0",
			},
			positions: make(map[string]*model.Position),
		}
		s.markets[id] = m
	}
	return m
}

func (m *marketState) position(marketID, account string) *model.Position {
	pos, ok := m.positions[account]
	if !ok {
		pos = &model.Position{
			MarketID:  marketID,
			Account:   account,
			YesShares: "0",
			NoShares:  "0",
			LPTokens:  "0",
			Claimed:   "0",
		}
		m.positions[account] = pos
	}
	return pos
}

func addAmount(a, b string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		x = new(big.Int)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		y = new(big.Int)
	}
	return x.Add(x, y).String()
}

func negate(a string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return "0"
	}
	return x.Neg(x).String()
}

func floorZero(a string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok || x.Sign() < 0 {
		return "0"
	}
	return a
}

func maxBlock(a, b uint64) uint64 {
	if b > a {
		return b
	}
	return a
}
