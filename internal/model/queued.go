package model

import "time"

// Status is the processing state of a queued event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// QueuedEvent wraps a raw event while it is owned by the ingestion queue.
type QueuedEvent struct {
	ID         string    `json:"id"`
	Raw        RawEvent  `json:"raw"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// NotBefore delays a retried event until the backoff has elapsed.
	NotBefore  time.Time `json:"not_before"`
	IsRealtime bool      `json:"is_realtime"`
	LastError  string    `json:"last_error,omitempty"`
}

// NewQueuedEvent wraps raw as a pending event.
func NewQueuedEvent(raw RawEvent, realtime bool, now time.Time) *QueuedEvent {
	return &QueuedEvent{
		ID:         raw.ID(),
		Raw:        raw,
		Status:     StatusPending,
		EnqueuedAt: now,
		NotBefore:  now,
		IsRealtime: realtime,
	}
}

// Ready reports whether a pending event may be taken at now.
func (q *QueuedEvent) Ready(now time.Time) bool {
	return q.Status == StatusPending && !q.NotBefore.After(now)
}

// FailedEvent is a dead-lettered event kept for operator inspection.
type FailedEvent struct {
	Event    QueuedEvent `json:"event"`
	Error    string      `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
}
