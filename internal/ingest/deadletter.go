package ingest

import (
	"sort"
	"sync"
	"time"

	"marketIndexer/internal/model"
)

// deadLetters is the bounded set of events that exhausted their retries.
type deadLetters struct {
	mu       sync.Mutex
	capacity int
	events   map[string]model.FailedEvent
}

func newDeadLetters(capacity int) *deadLetters {
	return &deadLetters{capacity: capacity, events: make(map[string]model.FailedEvent)}
}

// add stores ev and returns entries evicted to stay within capacity, oldest first.
func (d *deadLetters) add(ev model.FailedEvent) []model.FailedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[ev.Event.ID] = ev
	if d.capacity <= 0 || len(d.events) <= d.capacity {
		return nil
	}
	sorted := d.sortedLocked()
	evicted := sorted[:len(sorted)-d.capacity]
	for _, old := range evicted {
		delete(d.events, old.Event.ID)
	}
	return evicted
}

func (d *deadLetters) list() []model.FailedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedLocked()
}

func (d *deadLetters) take(id string) (model.FailedEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.events[id]
	if ok {
		delete(d.events, id)
	}
	return ev, ok
}

// sweep removes and returns entries that failed before cutoff.
func (d *deadLetters) sweep(cutoff time.Time) []model.FailedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var expired []model.FailedEvent
	for id, ev := range d.events {
		if ev.FailedAt.Before(cutoff) {
			expired = append(expired, ev)
			delete(d.events, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].FailedAt.Before(expired[j].FailedAt) })
	return expired
}

func (d *deadLetters) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *deadLetters) sortedLocked() []model.FailedEvent {
	out := make([]model.FailedEvent, 0, len(d.events))
	for _, ev := range d.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].FailedAt.Before(out[j].FailedAt)
		}
		return out[i].Event.ID < out[j].Event.ID
	})
	return out
}
