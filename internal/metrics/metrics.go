package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Published = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "events_published_total",
		Help:      "Events successfully published, by channel kind.",
	}, []string{"kind"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "publish_failures_total",
		Help:      "Publish attempts that failed, by reason.",
	}, []string{"reason"})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablewave",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablewave",
		Name:      "subscribe_queue_depth",
		Help:      "Messages waiting in the backpressure queue.",
	})

	Dropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "subscribe_dropped_total",
		Help:      "Messages evicted from the backpressure queue.",
	})

	Dispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "subscribe_dispatched_total",
		Help:      "Messages dispatched to client sessions.",
	})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "delivery_failures_total",
		Help:      "Per-session delivery failures, isolated per message.",
	})

	OutboxProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "outbox_processed_total",
		Help:      "Outbox rows moved to a terminal or retried state.",
	}, []string{"status"})

	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "stream_dead_lettered_total",
		Help:      "Stream entries moved to the dead-letter stream.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablewave",
		Name:      "subscribe_reconnects_total",
		Help:      "Subscription stream reconnect attempts.",
	})
)
