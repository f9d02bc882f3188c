package ingest

import (
	"sort"
	"sync"
	"time"

	"marketIndexer/internal/model"
)

// queue holds outstanding events (pending or processing) keyed by id.
type queue struct {
	mu     sync.Mutex
	events map[string]*model.QueuedEvent
}

func newQueue() *queue {
	return &queue{events: make(map[string]*model.QueuedEvent)}
}

// push adds ev unless an event with the same id is already outstanding.
func (q *queue) push(ev *model.QueuedEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.events[ev.ID]; ok {
		return false
	}
	q.events[ev.ID] = ev
	return true
}

// takeReady marks up to limit ready events as processing and returns copies
// in ledger order.
func (q *queue) takeReady(now time.Time, limit int) []model.QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := make([]*model.QueuedEvent, 0)
	for _, ev := range q.events {
		if ev.Ready(now) {
			ready = append(ready, ev)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].Raw.Meta().Before(ready[j].Raw.Meta())
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]model.QueuedEvent, 0, len(ready))
	for _, ev := range ready {
		ev.Status = model.StatusProcessing
		out = append(out, *ev)
	}
	return out
}

func (q *queue) complete(id string) {
	q.mu.Lock()
	delete(q.events, id)
	q.mu.Unlock()
}

// fail records a failed attempt. The event is rescheduled at
// now + retryDelay*retryCount, or removed and returned as dead once
// retryCount reaches maxRetries. permanent skips straight to dead.
func (q *queue) fail(id string, cause error, now time.Time, retryDelay time.Duration, maxRetries int, permanent bool) (model.QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev, ok := q.events[id]
	if !ok {
		return model.QueuedEvent{}, false
	}
	ev.RetryCount++
	ev.LastError = cause.Error()
	if permanent || ev.RetryCount >= maxRetries {
		ev.Status = model.StatusFailed
		delete(q.events, id)
		return *ev, true
	}
	ev.Status = model.StatusPending
	ev.NotBefore = now.Add(retryDelay * time.Duration(ev.RetryCount))
	return *ev, false
}

// len counts outstanding events.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// lowestOutstanding returns the smallest block of any outstanding event.
func (q *queue) lowestOutstanding() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var (
		lowest uint64
		found  bool
	)
	for _, ev := range q.events {
		if !found || ev.Raw.BlockNumber < lowest {
			lowest, found = ev.Raw.BlockNumber, true
		}
	}
	return lowest, found
}

func (q *queue) get(id string) (model.QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.events[id]
	if !ok {
		return model.QueuedEvent{}, false
	}
	return *ev, true
}
