// Package ingest turns the market contract's log stream into committed state:
// historical backfill, live subscriptions, dedup, retry and dead-lettering.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"marketIndexer/internal/market"
	"marketIndexer/internal/metrics"
	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

// State is the pipeline lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateBackfilling State = "backfilling"
	StateLive        State = "live"
	StateDegraded    State = "degraded"
	StateClosed      State = "closed"
)

// backfillOverlap is how far below the persisted cursor a restart re-reads.
const backfillOverlap = 100

// backfillQueueBatches bounds the queue, in batches, before a backfill
// stops querying and drains.
const backfillQueueBatches = 10

var (
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrClosed         = errors.New("pipeline closed")
	ErrFailedNotFound = errors.New("failed event not found")
)

// LedgerClient is the event source.
type LedgerClient interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	QueryLogs(ctx context.Context, from, to uint64, kinds []model.EventKind) ([]model.RawEvent, error)
	// Subscribe delivers new events of kind into sink. Connection loss is
	// reported on the subscription's Err channel.
	Subscribe(ctx context.Context, kind model.EventKind, sink chan<- model.RawEvent) (ethereum.Subscription, error)
}

type Decoder interface {
	Decode(raw model.RawEvent) (model.Event, error)
}

// Archiver receives dead letters evicted by the retention sweep.
type Archiver interface {
	Append(events []model.FailedEvent) error
}

type Config struct {
	ChainID uint64
	// StartBlock seeds the cursor on first run. Nil starts at the chain tip.
	StartBlock          *uint64
	Confirmations       uint64
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
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:          5,
		RetryDelay:          2 * time.Second,
		BatchSize:           100,
		BatchInterval:       5 * time.Second,
		MaxConcurrentEvents: 10,
		EventCacheSize:      1000,
		CatchUpThreshold:    100,
		RetentionWindow:     24 * time.Hour,
		SyncInterval:        30 * time.Second,
		CleanupInterval:     time.Hour,
		ReconnectDelay:      10 * time.Second,
		MaxReconnectDelay:   5 * time.Minute,
		QueryChunkSize:      2000,
		QueryTimeout:        30 * time.Second,
		QueryRetries:        3,
		FailedCapacity:      10000,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxRetries <= 0:
		return fmt.Errorf("max retries must be greater than zero")
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be greater than zero")
	case c.MaxConcurrentEvents <= 0:
		return fmt.Errorf("max concurrent events must be greater than zero")
	case c.EventCacheSize <= 0:
		return fmt.Errorf("event cache size must be greater than zero")
	case c.QueryChunkSize == 0:
		return fmt.Errorf("query chunk size must be greater than zero")
	case c.BatchInterval <= 0 || c.SyncInterval <= 0 || c.CleanupInterval <= 0:
		return fmt.Errorf("loop intervals must be positive")
	}
	return nil
}

// Health is a point-in-time view of the pipeline.
type Health struct {
	State       State     `json:"state"`
	Listening   bool      `json:"listening"`
	QueueDepth  int       `json:"queue_depth"`
	FailedCount int       `json:"failed_count"`
	Cursor      uint64    `json:"cursor"`
	LastEventAt time.Time `json:"last_event_at"`
	Duplicates  uint64    `json:"duplicates"`
}

type Option func(*Pipeline)

func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithArchive(archive Archiver) Option {
	return func(p *Pipeline) { p.archive = archive }
}

func WithHandlers(handlers Handlers) Option {
	return func(p *Pipeline) { p.handlers = handlers }
}

func WithDecoder(decoder Decoder) Option {
	return func(p *Pipeline) { p.decoder = decoder }
}

type subFailure struct {
	gen uint64
	err error
}

// Pipeline moves ledger events through the queue into the state store.
type Pipeline struct {
	cfg      Config
	ledger   LedgerClient
	store    storage.StateStore
	decoder  Decoder
	handlers Handlers
	archive  Archiver
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	queue *queue
	dedup *dedupCache
	dead  *deadLetters

	mu          sync.Mutex
	state       State
	cursor      uint64
	hasCursor   bool
	persisted   uint64
	// scanned is the highest block covered by contiguous range queries.
	scanned     uint64
	hasScanned  bool
	subs        []ethereum.Subscription
	gen         uint64
	lastEventAt time.Time
	listeners   []func(model.DomainNotification)

	drainMu    sync.Mutex
	closing    atomic.Bool
	duplicates atomic.Uint64

	live     chan model.RawEvent
	failures chan subFailure

	loopCtx    context.Context
	loopCancel context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewPipeline(cfg Config, ledger LedgerClient, store storage.StateStore, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger client is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dedup, err := newDedupCache(cfg.EventCacheSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		ledger:   ledger,
		store:    store,
		handlers: DefaultHandlers(),
		clock:    clockwork.NewRealClock(),
		logger:   logger.Named("ingest"),
		queue:    newQueue(),
		dedup:    dedup,
		dead:     newDeadLetters(cfg.FailedCapacity),
		state:    StateIdle,
		live:     make(chan model.RawEvent, 256),
		failures: make(chan subFailure, len(model.AllEventKinds)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.decoder == nil {
		decoder, err := market.NewDecoder()
		if err != nil {
			return nil, err
		}
		p.decoder = decoder
	}
	if err := p.handlers.Validate(); err != nil {
		return nil, err
	}

	p.loopCtx, p.loopCancel = context.WithCancel(context.Background())
	p.workCtx, p.workCancel = context.WithCancel(context.Background())
	return p, nil
}

// Start runs the startup protocol and launches the background loops. A
// startup failure is returned and leaves the pipeline closed.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.mu.Unlock()

	p.wg.Add(2)
	go p.pumpLive(p.loopCtx)
	go p.drainLoop(p.loopCtx)

	if err := p.startup(ctx); err != nil {
		p.closing.Store(true)
		p.unsubscribeAll()
		p.loopCancel()
		p.wg.Wait()
		p.setState(StateClosed)
		return fmt.Errorf("start pipeline: %w", err)
	}

	p.wg.Add(3)
	go p.syncLoop(p.loopCtx)
	go p.cleanupLoop(p.loopCtx)
	go p.supervise(p.loopCtx)
	return nil
}

// Stop cancels live subscriptions, stops accepting events and waits for the
// in-flight batch until ctx expires, after which running handlers are cancelled.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.closing.CompareAndSwap(false, true) {
		return nil
	}
	p.unsubscribeAll()
	p.setState(StateClosed)
	p.loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.drainMu.Lock()
		p.drainMu.Unlock()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.workCancel()
		err = fmt.Errorf("drain in-flight batch: %w", ctx.Err())
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	p.persistCursor(persistCtx)
	p.workCancel()
	return err
}

// AddListener registers fn for notifications of completed realtime events.
func (p *Pipeline) AddListener(fn func(model.DomainNotification)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Enqueue admits a raw event. It returns false for reorged logs, duplicates,
// events already queued, and after Stop.
func (p *Pipeline) Enqueue(raw model.RawEvent, realtime bool) bool {
	if p.closing.Load() {
		return false
	}
	if raw.Removed {
		p.logger.Warn("dropping removed log", zap.String("id", raw.ID()), zap.Uint64("block", raw.BlockNumber))
		return false
	}

	now := p.clock.Now()
	id := raw.ID()
	if p.dedup.seen(id, now) {
		p.duplicates.Add(1)
		p.metrics.Duplicate()
		p.logger.Debug("duplicate event", zap.String("id", id))
		return false
	}
	if !p.queue.push(model.NewQueuedEvent(raw, realtime, now)) {
		return false
	}

	p.mu.Lock()
	p.lastEventAt = now
	p.mu.Unlock()
	p.metrics.EventEnqueued(realtime)
	p.metrics.SetQueueDepth(p.queue.len())
	return true
}

// Backfill enqueues every tracked event in [from, to] as non-realtime. A range
// that starts at or below the cursor's next block extends the scanned mark,
// and the cursor follows it once the queued events are terminal. A detached
// range is processed but never moves the cursor.
func (p *Pipeline) Backfill(ctx context.Context, from, to uint64) error {
	if to < from {
		return nil
	}
	ranges, err := SplitRange(from, to, p.cfg.QueryChunkSize)
	if err != nil {
		return err
	}
	if err := p.ensureCursor(ctx); err != nil {
		return err
	}

	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.waitForQueueRoom(ctx); err != nil {
			return err
		}

		var events []model.RawEvent
		err := withRetry(ctx, p.clock, p.cfg.QueryRetries, p.cfg.RetryDelay, p.cfg.QueryTimeout, func(ctx context.Context) error {
			var err error
			events, err = p.ledger.QueryLogs(ctx, blockRange.From, blockRange.To, model.AllEventKinds)
			if err != nil {
				p.logger.Warn("query logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("query logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		accepted := 0
		for _, raw := range events {
			if p.Enqueue(raw, false) {
				accepted++
			}
		}
		contiguous := p.markScanned(blockRange)
		p.logger.Info("backfill chunk queued",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("logs", len(events)),
			zap.Int("accepted", accepted),
			zap.Bool("contiguous", contiguous),
		)
	}
	return nil
}

// ensureCursor loads the stored cursor when the pipeline has none yet, so a
// standalone backfill measures contiguity against persisted progress.
func (p *Pipeline) ensureCursor(ctx context.Context) error {
	p.mu.Lock()
	known := p.hasCursor || p.hasScanned
	p.mu.Unlock()
	if known {
		return nil
	}
	stored, ok, err := p.store.GetSyncCursor(ctx, p.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("load sync cursor: %w", err)
	}
	if !ok {
		return nil
	}
	p.mu.Lock()
	if stored > p.persisted {
		p.persisted = stored
	}
	p.mu.Unlock()
	p.raiseCursor(stored)
	return nil
}

// markScanned extends the scanned mark over r when r touches it. With no
// cursor and nothing scanned the first range defines the origin.
func (p *Pipeline) markScanned(r BlockRange) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasCursor || p.hasScanned {
		base := p.cursor
		if p.hasScanned && p.scanned > base {
			base = p.scanned
		}
		if r.From > base+1 {
			return false
		}
	}
	if !p.hasScanned || r.To > p.scanned {
		p.scanned = r.To
	}
	p.hasScanned = true
	return true
}

// scannedThrough returns the scanned mark, falling back to the cursor.
func (p *Pipeline) scannedThrough() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasScanned && p.scanned > p.cursor {
		return p.scanned
	}
	return p.cursor
}

// waitForQueueRoom drains inline while the queue holds more than
// backfillQueueBatches batches, so a long range never sits in memory at once.
func (p *Pipeline) waitForQueueRoom(ctx context.Context) error {
	limit := p.cfg.BatchSize * backfillQueueBatches
	for p.queue.len() >= limit {
		if p.closing.Load() {
			return ErrClosed
		}
		if p.DrainOnce(ctx) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.BatchInterval):
		}
	}
	return nil
}

// Flush drains until no outstanding events remain, waiting out retry delays.
func (p *Pipeline) Flush(ctx context.Context) error {
	for {
		p.DrainOnce(ctx)
		if p.queue.len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.RetryDelay):
		}
	}
}

// FailedEvents lists dead letters, oldest first.
func (p *Pipeline) FailedEvents() []model.FailedEvent {
	return p.dead.list()
}

// Replay moves a dead letter back into the queue with its retry count reset.
func (p *Pipeline) Replay(id string) error {
	if p.closing.Load() {
		return ErrClosed
	}
	failed, ok := p.dead.take(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFailedNotFound, id)
	}

	now := p.clock.Now()
	ev := failed.Event
	ev.Status = model.StatusPending
	ev.RetryCount = 0
	ev.NotBefore = now
	ev.LastError = ""
	if !p.queue.push(&ev) {
		return fmt.Errorf("event %s is already queued", id)
	}
	p.logger.Info("replaying failed event", zap.String("id", id))
	return nil
}

// Cleanup evicts dead letters older than the retention window and archives them.
func (p *Pipeline) Cleanup() int {
	expired := p.dead.sweep(p.clock.Now().Add(-p.cfg.RetentionWindow))
	p.archiveFailed(expired)
	if len(expired) > 0 {
		p.logger.Info("swept failed events", zap.Int("count", len(expired)))
	}
	return len(expired)
}

func (p *Pipeline) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Health{
		State:       p.state,
		Listening:   p.state == StateLive && len(p.subs) > 0,
		QueueDepth:  p.queue.len(),
		FailedCount: p.dead.len(),
		Cursor:      p.cursor,
		LastEventAt: p.lastEventAt,
		Duplicates:  p.duplicates.Load(),
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Cursor() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}
	if p.state != state {
		p.logger.Info("state change", zap.String("from", string(p.state)), zap.String("to", string(state)))
	}
	p.state = state
}

// raiseCursor moves the in-memory cursor forward. It never moves back.
func (p *Pipeline) raiseCursor(block uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasCursor && block <= p.cursor {
		return
	}
	p.cursor = block
	p.hasCursor = true
	p.metrics.SetSyncCursor(block)
}

func (p *Pipeline) persistCursor(ctx context.Context) {
	p.mu.Lock()
	cursor, dirty := p.cursor, p.hasCursor && p.cursor > p.persisted
	p.mu.Unlock()
	if !dirty {
		return
	}
	if err := p.store.SetSyncCursor(ctx, p.cfg.ChainID, cursor); err != nil {
		p.logger.Warn("persist sync cursor failed", zap.Uint64("cursor", cursor), zap.Error(err))
		return
	}
	p.mu.Lock()
	if cursor > p.persisted {
		p.persisted = cursor
	}
	p.mu.Unlock()
}

func (p *Pipeline) archiveFailed(events []model.FailedEvent) {
	if len(events) == 0 || p.archive == nil {
		return
	}
	if err := p.archive.Append(events); err != nil {
		p.logger.Error("archive failed events", zap.Int("count", len(events)), zap.Error(err))
	}
}
