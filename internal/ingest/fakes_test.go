package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum"

	"marketIndexer/internal/model"
	"marketIndexer/internal/storage/memory"
)

type fakeSub struct {
	kind model.EventKind
	sink chan<- model.RawEvent

	mu     sync.Mutex
	closed bool
	err    chan error
}

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.err)
	}
}

func (s *fakeSub) Err() <-chan error { return s.err }

func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.err <- err:
	default:
	}
}

func (s *fakeSub) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// fakeLedger serves logs from memory and records every range queried.
type fakeLedger struct {
	mu           sync.Mutex
	height       uint64
	heightErr    error
	subscribeErr error
	logs         []model.RawEvent
	queries      []BlockRange
	subs         []*fakeSub
	// onQuery runs before each range query is answered.
	onQuery      func(from, to uint64)
}

func (l *fakeLedger) CurrentHeight(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height, l.heightErr
}

func (l *fakeLedger) QueryLogs(_ context.Context, from, to uint64, _ []model.EventKind) ([]model.RawEvent, error) {
	l.mu.Lock()
	onQuery := l.onQuery
	l.mu.Unlock()
	if onQuery != nil {
		onQuery(from, to)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, BlockRange{From: from, To: to})
	var out []model.RawEvent
	for _, raw := range l.logs {
		if raw.BlockNumber >= from && raw.BlockNumber <= to {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (l *fakeLedger) Subscribe(_ context.Context, kind model.EventKind, sink chan<- model.RawEvent) (ethereum.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscribeErr != nil {
		return nil, l.subscribeErr
	}
	sub := &fakeSub{kind: kind, sink: sink, err: make(chan error, 1)}
	l.subs = append(l.subs, sub)
	return sub, nil
}

func (l *fakeLedger) setHeight(height uint64) {
	l.mu.Lock()
	l.height = height
	l.mu.Unlock()
}

func (l *fakeLedger) addLogs(logs ...model.RawEvent) {
	l.mu.Lock()
	l.logs = append(l.logs, logs...)
	l.mu.Unlock()
}

func (l *fakeLedger) queried() []BlockRange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]BlockRange, len(l.queries))
	copy(out, l.queries)
	return out
}

func (l *fakeLedger) subscribeCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// emit pushes raw to the active subscription for its kind.
func (l *fakeLedger) emit(raw model.RawEvent) bool {
	l.mu.Lock()
	subs := append([]*fakeSub(nil), l.subs...)
	l.mu.Unlock()
	for _, sub := range subs {
		if sub.active() && string(sub.kind) == raw.EventName {
			sub.sink <- raw
			return true
		}
	}
	return false
}

// dropConnection fails every active subscription.
func (l *fakeLedger) dropConnection(err error) {
	l.mu.Lock()
	subs := append([]*fakeSub(nil), l.subs...)
	l.mu.Unlock()
	for _, sub := range subs {
		sub.fail(err)
	}
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails or panics on selected trade and liquidity events and
// records trade apply order.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failing  map[string]bool
	panics   map[string]bool
	attempts map[string]int
	order    map[string][]uint64
}

func newFlakyStore() *flakyStore {
	store, err := memory.New("")
	if err != nil {
		panic(err)
	}
	return &flakyStore{
		Store:    store,
		failing:  make(map[string]bool),
		panics:   make(map[string]bool),
		attempts: make(map[string]int),
		order:    make(map[string][]uint64),
	}
}

func (s *flakyStore) ApplyShareTrade(ctx context.Context, meta model.EventMeta, p model.ShareTrade) error {
	s.mu.Lock()
	s.attempts[meta.ID]++
	failing, panics := s.failing[meta.ID], s.panics[meta.ID]
	if !failing && !panics {
		s.order[p.MarketID] = append(s.order[p.MarketID], meta.BlockNumber)
	}
	s.mu.Unlock()

	if panics {
		panic("boom")
	}
	if failing {
		return errStoreDown
	}
	return s.Store.ApplyShareTrade(ctx, meta, p)
}

func (s *flakyStore) ApplyLiquidityChange(ctx context.Context, meta model.EventMeta, p model.LiquidityChange) error {
	s.mu.Lock()
	s.attempts[meta.ID]++
	failing := s.failing[meta.ID]
	s.mu.Unlock()
	if failing {
		return errStoreDown
	}
	return s.Store.ApplyLiquidityChange(ctx, meta, p)
}

func (s *flakyStore) setFailing(id string, failing bool) {
	s.mu.Lock()
	s.failing[id] = failing
	s.mu.Unlock()
}

func (s *flakyStore) setPanics(id string) {
	s.mu.Lock()
	s.panics[id] = true
	s.mu.Unlock()
}

func (s *flakyStore) attemptsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

func (s *flakyStore) appliedOrder(marketID string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.order[marketID]...)
}

type recordingArchive struct {
	mu     sync.Mutex
	events []model.FailedEvent
}

func (a *recordingArchive) Append(events []model.FailedEvent) error {
	a.mu.Lock()
	a.events = append(a.events, events...)
	a.mu.Unlock()
	return nil
}

func (a *recordingArchive) archived() []model.FailedEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.FailedEvent(nil), a.events...)
}
