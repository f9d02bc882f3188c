// Package orchestrator wires the ingestion pipeline to the broadcast service
// and owns process lifecycle and health.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"marketIndexer/internal/broadcast"
	"marketIndexer/internal/ingest"
	"marketIndexer/internal/market"
	"marketIndexer/internal/metrics"
	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

// MaintenanceNotice is sent to every connection on shutdown.
const MaintenanceNotice = "server shutting down for maintenance"

var (
	ErrChainMismatch = errors.New("chain id mismatch")
	ErrNotStarted    = errors.New("orchestrator not started")
)

// Pipeline is the ingestion side as seen by the orchestrator.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AddListener(fn func(model.DomainNotification))
	Health() ingest.Health
	FailedEvents() []model.FailedEvent
	Replay(id string) error
}

// Broadcaster is the delivery side as seen by the orchestrator.
type Broadcaster interface {
	Publish(n model.DomainNotification)
	ConnectionCount() int
	SubscriptionCount() int
	Close(notice string)
}

type ChainIdentifier interface {
	ChainID(ctx context.Context) (uint64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	ChainID         uint64
	HealthInterval  time.Duration
	MaxQueueDepth   int
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HealthInterval:  30 * time.Second,
		MaxQueueDepth:   10000,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Status is the aggregate document served on the admin surface.
type Status struct {
	Healthy       bool            `json:"healthy"`
	Components    map[string]bool `json:"components"`
	Unhealthy     []string        `json:"unhealthy,omitempty"`
	ChainID       uint64          `json:"chain_id"`
	Pipeline      ingest.Health   `json:"pipeline"`
	Connections   int             `json:"connections"`
	Subscriptions int             `json:"subscriptions"`
	StartedAt     time.Time       `json:"started_at"`
	CheckedAt     time.Time       `json:"checked_at"`
}

type Option func(*Orchestrator)

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHealthHook registers fn to run whenever a health check finds the
// system degraded.
func WithHealthHook(fn func(Status)) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, fn) }
}

// WithCloser registers fn to release a resource during shutdown, after the
// pipeline and broadcast service are stopped.
func WithCloser(fn func()) Option {
	return func(o *Orchestrator) { o.closers = append(o.closers, fn) }
}

type Orchestrator struct {
	cfg       Config
	chain     ChainIdentifier
	pipeline  Pipeline
	broadcast Broadcaster
	store     Pinger
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	hooks     []func(Status)
	closers   []func()

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	last      Status
	checked   bool

	loopCancel   context.CancelFunc
	loopDone     chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg Config, chain ChainIdentifier, pipeline Pipeline, bc Broadcaster, store Pinger, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if chain == nil || pipeline == nil || bc == nil || store == nil {
		return nil, fmt.Errorf("orchestrator dependencies must not be nil")
	}
	defaults := DefaultConfig()
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaults.HealthInterval
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaults.MaxQueueDepth
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		chain:     chain,
		pipeline:  pipeline,
		broadcast: bc,
		store:     store,
		clock:     clockwork.NewRealClock(),
		logger:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start verifies the chain, starts the pipeline and begins forwarding its
// realtime notifications to subscribers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	o.mu.Unlock()

	chainID, err := o.chain.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if chainID != o.cfg.ChainID {
		return fmt.Errorf("%w: rpc reports %d, configured %d", ErrChainMismatch, chainID, o.cfg.ChainID)
	}

	o.pipeline.AddListener(o.broadcast.Publish)
	if err := o.pipeline.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.startedAt = o.clock.Now()
	o.loopCancel = cancel
	o.loopDone = make(chan struct{})
	o.mu.Unlock()

	go o.healthLoop(loopCtx)
	o.logger.Info("started", zap.Uint64("chain_id", chainID))
	return nil
}

// Run starts the orchestrator and blocks until ctx is cancelled, then shuts
// down.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		o.closeResources()
		return err
	}
	<-ctx.Done()
	return o.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops intake, drains in-flight work within ShutdownTimeout, sends
// the maintenance notice and releases resources. Repeated calls return the
// first result.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.logger.Info("shutting down")
		o.mu.Lock()
		cancel, done := o.loopCancel, o.loopDone
		o.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		stopCtx, stop := context.WithTimeout(ctx, o.cfg.ShutdownTimeout)
		defer stop()
		if err := o.pipeline.Stop(stopCtx); err != nil {
			o.logger.Warn("pipeline stop", zap.Error(err))
			o.shutdownErr = err
		}
		o.broadcast.Close(MaintenanceNotice)
		o.closeResources()
		o.logger.Info("shutdown complete")
	})
	return o.shutdownErr
}

func (o *Orchestrator) closeResources() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	o.closers = nil
}

// Status returns the latest health check, running one if none exists yet.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.Lock()
	last, ok := o.last, o.checked
	o.mu.Unlock()
	if ok {
		return last
	}
	return o.CheckHealth(ctx)
}

func (o *Orchestrator) FailedEvents() []model.FailedEvent {
	return o.pipeline.FailedEvents()
}

func (o *Orchestrator) Replay(id string) error {
	return o.pipeline.Replay(id)
}

func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer close(o.loopDone)
	ticker := o.clock.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			o.CheckHealth(ctx)
		}
	}
}

// CheckHealth polls every component and records the result. A degraded
// system is reported but never restarted.
func (o *Orchestrator) CheckHealth(ctx context.Context) Status {
	pipeline := o.pipeline.Health()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	storeErr := o.store.Ping(pingCtx)
	cancel()

	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	status := Status{
		Components: map[string]bool{
			"pipeline":  pipeline.Listening,
			"queue":     pipeline.QueueDepth <= o.cfg.MaxQueueDepth,
			"store":     storeErr == nil,
			"broadcast": true,
		},
		ChainID:       o.cfg.ChainID,
		Pipeline:      pipeline,
		Connections:   o.broadcast.ConnectionCount(),
		Subscriptions: o.broadcast.SubscriptionCount(),
		StartedAt:     startedAt,
		CheckedAt:     o.clock.Now(),
	}
	for name, ok := range status.Components {
		if !ok {
			status.Unhealthy = append(status.Unhealthy, name)
		}
	}
	sort.Strings(status.Unhealthy)
	status.Healthy = len(status.Unhealthy) == 0

	o.mu.Lock()
	o.last = status
	o.checked = true
	o.mu.Unlock()

	o.metrics.SetHealth(status.Healthy, status.Components)
	if !status.Healthy {
		fields := []zap.Field{
			zap.Strings("unhealthy", status.Unhealthy),
			zap.String("pipeline_state", string(pipeline.State)),
			zap.Int("queue_depth", pipeline.QueueDepth),
			zap.Time("last_event_at", pipeline.LastEventAt),
		}
		if storeErr != nil {
			fields = append(fields, zap.Error(storeErr))
		}
		o.logger.Warn("system degraded", fields...)
		for _, hook := range o.hooks {
			hook(status)
		}
	}
	return status
}

// MarketSnapshots serves subscribe-time snapshots from store, formatting
// amounts with the collateral token.
func MarketSnapshots(store storage.StateStore, collateral model.TokenMeta) broadcast.SnapshotFunc {
	return func(ctx context.Context, marketID string) (interface{}, error) {
		snapshot, err := store.GetMarketSnapshot(ctx, marketID)
		if err != nil {
			return nil, err
		}
		return market.Present(snapshot, collateral), nil
	}
}
