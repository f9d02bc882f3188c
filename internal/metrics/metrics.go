// Package metrics exposes indexer and broadcast counters on a private
// Prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market_indexer"

type Metrics struct {
	registry *prometheus.Registry

	eventsEnqueued      *prometheus.CounterVec
	duplicates          prometheus.Counter
	eventsProcessed     *prometheus.CounterVec
	retries             prometheus.Counter
	deadLetters         prometheus.Counter
	queueDepth          prometheus.Gauge
	syncCursor          prometheus.Gauge
	chainHeight         prometheus.Gauge
	handlerDuration     *prometheus.HistogramVec
	reconnects          prometheus.Counter
	connections         prometheus.Gauge
	subscriptions       prometheus.Gauge
	notifications       *prometheus.CounterVec
	droppedSends        prometheus.Counter
	healthy             prometheus.Gauge
	unhealthyComponents *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enqueued_total",
			Help:      "Events accepted into the processing queue",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Events dropped because their id was already seen",
		}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events committed to the state store",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_retried_total",
			Help:      "Failed handler attempts that were rescheduled",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dead_lettered_total",
			Help:      "Events moved to the failed set",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Outstanding events in the processing queue",
		}),
		syncCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_cursor_block",
			Help:      "Highest fully applied block",
		}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height_block",
			Help:      "Latest confirmed block seen on the ledger",
		}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent applying one event",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reconnects_total",
			Help:      "Live subscription reconnect attempts",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_connections",
			Help:      "Open broadcast connections",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_subscriptions",
			Help:      "Active topic subscriptions across all connections",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Notifications published by event type",
		}, []string{"event_type"}),
		droppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_sends_total",
			Help:      "Messages dropped because a connection buffer was full",
		}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "1 when every component is healthy",
		}),
		unhealthyComponents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_unhealthy",
			Help:      "1 when the component failed its last health check",
		}, []string{"component"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsEnqueued,
		m.duplicates,
		m.eventsProcessed,
		m.retries,
		m.deadLetters,
		m.queueDepth,
		m.syncCursor,
		m.chainHeight,
		m.handlerDuration,
		m.reconnects,
		m.connections,
		m.subscriptions,
		m.notifications,
		m.droppedSends,
		m.healthy,
		m.unhealthyComponents,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventEnqueued(realtime bool) {
	if m == nil {
		return
	}
	source := "backfill"
	if realtime {
		source = "live"
	}
	m.eventsEnqueued.WithLabelValues(source).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) EventProcessed(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(kind).Inc()
	m.handlerDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) DeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetSyncCursor(block uint64) {
	if m == nil {
		return
	}
	m.syncCursor.Set(float64(block))
}

func (m *Metrics) SetChainHeight(block uint64) {
	if m == nil {
		return
	}
	m.chainHeight.Set(float64(block))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) NotificationPublished(eventType string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DroppedSend() {
	if m == nil {
		return
	}
	m.droppedSends.Inc()
}

// SetHealth records the overall status and flags each unhealthy component.
func (m *Metrics) SetHealth(healthy bool, components map[string]bool) {
	if m == nil {
		return
	}
	if healthy {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
	for name, ok := range components {
		value := 0.0
		if !ok {
			value = 1
		}
		m.unhealthyComponents.WithLabelValues(name).Set(value)
	}
}
