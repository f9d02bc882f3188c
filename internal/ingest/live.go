package ingest

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"marketIndexer/internal/model"
)

// startup loads the cursor, backfills up to the confirmed tip and opens the
// live subscriptions. It runs at Start and after every reconnect.
func (p *Pipeline) startup(ctx context.Context) error {
	stored, ok, err := p.store.GetSyncCursor(ctx, p.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("load sync cursor: %w", err)
	}
	height, err := p.confirmedHeight(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if ok && stored > p.persisted {
		p.persisted = stored
	}
	memCursor, hasMem := p.cursor, p.hasCursor
	p.mu.Unlock()

	var from uint64
	backfill := true
	switch {
	case ok || hasMem:
		cursor := stored
		if hasMem && memCursor > cursor {
			cursor = memCursor
		}
		p.raiseCursor(cursor)
		from = saturatingSub(cursor, backfillOverlap)
	case p.cfg.StartBlock != nil:
		from = *p.cfg.StartBlock
		if from > 0 {
			// Blocks before the start block count as scanned.
			p.markScanned(BlockRange{To: from - 1})
		}
	default:
		p.raiseCursor(height)
		p.markScanned(BlockRange{From: height, To: height})
		backfill = false
	}

	if backfill {
		p.setState(StateBackfilling)
		p.logger.Info("backfill", zap.Uint64("from", from), zap.Uint64("to", height))
		if err := p.Backfill(ctx, from, height); err != nil {
			return err
		}
	} else {
		p.logger.Info("no stored cursor, starting at chain tip", zap.Uint64("block", height))
	}

	if err := p.subscribeAll(); err != nil {
		return err
	}
	p.setState(StateLive)
	return nil
}

// confirmedHeight is the ledger height minus the confirmation depth.
func (p *Pipeline) confirmedHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := withRetry(ctx, p.clock, p.cfg.QueryRetries, p.cfg.RetryDelay, p.cfg.QueryTimeout, func(ctx context.Context) error {
		var err error
		height, err = p.ledger.CurrentHeight(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("current height: %w", err)
	}
	p.metrics.SetChainHeight(height)
	return saturatingSub(height, p.cfg.Confirmations), nil
}

func (p *Pipeline) subscribeAll() error {
	subs := make([]ethereum.Subscription, 0, len(model.AllEventKinds))
	for _, kind := range model.AllEventKinds {
		sub, err := p.ledger.Subscribe(p.loopCtx, kind, p.live)
		if err != nil {
			for _, opened := range subs {
				opened.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		subs = append(subs, sub)
	}

	p.mu.Lock()
	if p.closing.Load() {
		p.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		return ErrClosed
	}
	p.gen++
	gen := p.gen
	p.subs = subs
	p.mu.Unlock()

	for _, sub := range subs {
		p.wg.Add(1)
		go p.watch(gen, sub)
	}
	return nil
}

func (p *Pipeline) unsubscribeAll() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// watch forwards a subscription error to the supervisor.
func (p *Pipeline) watch(gen uint64, sub ethereum.Subscription) {
	defer p.wg.Done()
	select {
	case err, ok := <-sub.Err():
		if !ok || err == nil {
			return
		}
		select {
		case p.failures <- subFailure{gen: gen, err: err}:
		default:
		}
	case <-p.loopCtx.Done():
	}
}

func (p *Pipeline) supervise(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case failure := <-p.failures:
			p.mu.Lock()
			current := p.gen
			p.mu.Unlock()
			if failure.gen != current {
				continue
			}
			p.reconnect(ctx, failure.err)
		}
	}
}

// reconnect drops every subscription and reruns startup until it succeeds,
// backing off exponentially from ReconnectDelay up to MaxReconnectDelay.
func (p *Pipeline) reconnect(ctx context.Context, cause error) {
	if p.closing.Load() {
		return
	}
	p.logger.Warn("live subscription lost", zap.Error(cause))
	p.unsubscribeAll()
	p.setState(StateDegraded)

	for attempt := 0; ; attempt++ {
		delay := reconnectBackoff(attempt, p.cfg.ReconnectDelay, p.cfg.MaxReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(delay):
		}
		if p.closing.Load() {
			return
		}

		p.metrics.Reconnect()
		if err := p.startup(ctx); err != nil {
			p.logger.Warn("reconnect failed", zap.Int("attempt", attempt+1), zap.Error(err))
			p.unsubscribeAll()
			p.setState(StateDegraded)
			continue
		}
		p.logger.Info("reconnected", zap.Int("attempt", attempt+1), zap.Uint64("cursor", p.Cursor()))
		return
	}
}

func (p *Pipeline) pumpLive(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.live:
			p.Enqueue(raw, true)
		}
	}
}

func (p *Pipeline) drainLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.DrainOnce(p.workCtx)
		}
	}
}

func (p *Pipeline) syncLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(p.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.syncOnce(ctx)
		}
	}
}

// syncOnce queries every block that became confirmed since the last scan.
// Live delivery can run ahead of confirmation, so blocks inside the
// confirmation window are only counted once a range query has covered them.
func (p *Pipeline) syncOnce(ctx context.Context) {
	if p.State() != StateLive {
		return
	}
	height, err := p.confirmedHeight(ctx)
	if err != nil {
		p.logger.Warn("sync height check failed", zap.Error(err))
		return
	}
	scanned := p.scannedThrough()
	if height <= scanned {
		return
	}
	cursor := p.Cursor()
	if height-cursor > p.cfg.CatchUpThreshold {
		p.logger.Info("catching up", zap.Uint64("cursor", cursor), zap.Uint64("scanned", scanned), zap.Uint64("height", height))
	} else {
		p.logger.Debug("scanning confirmed blocks", zap.Uint64("from", scanned+1), zap.Uint64("to", height))
	}
	if err := p.Backfill(ctx, scanned+1, height); err != nil {
		p.logger.Warn("sync backfill failed", zap.Error(err))
	}
}

func (p *Pipeline) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.Cleanup()
		}
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
