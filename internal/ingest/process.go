package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketIndexer/internal/model"
)

var errHandlerPanic = errors.New("handler panic")

type work struct {
	queued model.QueuedEvent
	event  model.Event
}

// DrainOnce processes ready events batch by batch until none are ready, then
// advances and persists the cursor. It returns the number of events taken.
func (p *Pipeline) DrainOnce(ctx context.Context) int {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	total := 0
	for {
		batch := p.queue.takeReady(p.clock.Now(), p.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}
		p.processBatch(ctx, batch)
		total += len(batch)

		p.advanceCursor()
		p.persistCursor(ctx)
		if p.closing.Load() || ctx.Err() != nil {
			break
		}
	}

	p.advanceCursor()
	p.persistCursor(ctx)
	p.metrics.SetQueueDepth(p.queue.len())
	return total
}

// processBatch decodes the batch and applies it with bounded concurrency.
// Events of the same market run sequentially in ledger order.
func (p *Pipeline) processBatch(ctx context.Context, batch []model.QueuedEvent) {
	groups := make(map[string][]work)
	order := make([]string, 0)
	for _, queued := range batch {
		event, err := p.decoder.Decode(queued.Raw)
		if err != nil {
			p.fail(queued, err, true)
			continue
		}
		key := event.Payload.MarketKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], work{queued: queued, event: event})
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentEvents)
	for _, key := range order {
		items := groups[key]
		g.Go(func() error {
			for _, item := range items {
				p.processEvent(ctx, item)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) processEvent(ctx context.Context, item work) {
	kind := item.event.Kind()
	handler, ok := p.handlers[kind]
	if !ok {
		p.fail(item.queued, fmt.Errorf("no handler for %s", kind), true)
		return
	}

	start := p.clock.Now()
	if err := p.apply(ctx, handler, item.event); err != nil {
		p.fail(item.queued, err, false)
		return
	}
	p.metrics.EventProcessed(string(kind), p.clock.Since(start))

	p.queue.complete(item.queued.ID)
	if item.queued.IsRealtime {
		p.emit(handler.notifications(item.event, p.clock.Now().UnixMilli()))
	}
}

func (p *Pipeline) apply(ctx context.Context, handler Handler, event model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return handler.Apply(ctx, p.store, event.Raw.Meta(), event.Payload)
}

// fail schedules a retry, or dead-letters the event once retries are
// exhausted or the failure is permanent.
func (p *Pipeline) fail(queued model.QueuedEvent, cause error, permanent bool) {
	now := p.clock.Now()
	updated, dead := p.queue.fail(queued.ID, cause, now, p.cfg.RetryDelay, p.cfg.MaxRetries, permanent)
	if !dead {
		p.metrics.Retry()
		p.logger.Warn("event failed, retry scheduled",
			zap.String("id", queued.ID),
			zap.Int("retry_count", updated.RetryCount),
			zap.Time("not_before", updated.NotBefore),
			zap.Error(cause),
		)
		return
	}

	evicted := p.dead.add(model.FailedEvent{Event: updated, Error: cause.Error(), FailedAt: now})
	p.archiveFailed(evicted)
	p.metrics.DeadLetter()
	p.logger.Error("event dead-lettered",
		zap.String("id", queued.ID),
		zap.String("event", queued.Raw.EventName),
		zap.Uint64("block", queued.Raw.BlockNumber),
		zap.Int("retry_count", updated.RetryCount),
		zap.Bool("permanent", permanent),
		zap.Error(cause),
	)
}

func (p *Pipeline) emit(notifications []model.DomainNotification) {
	p.mu.Lock()
	listeners := make([]func(model.DomainNotification), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, n := range notifications {
		for _, listener := range listeners {
			p.callListener(listener, n)
		}
	}
}

func (p *Pipeline) callListener(listener func(model.DomainNotification), n model.DomainNotification) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("notification listener panic", zap.String("topic", n.Topic), zap.Any("panic", r))
		}
	}()
	listener(n)
}

// advanceCursor moves the cursor to the highest block below which every
// scanned event is terminal.
func (p *Pipeline) advanceCursor() {
	p.mu.Lock()
	target, has := p.scanned, p.hasScanned
	p.mu.Unlock()
	if !has {
		return
	}
	if lowest, ok := p.queue.lowestOutstanding(); ok && lowest <= target {
		if lowest == 0 {
			return
		}
		target = lowest - 1
	}
	p.raiseCursor(target)
}
