package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the score collaboration backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: chordcast (application-level grouping)
// - subsystem: websocket, room, broadcast, cache, store, circuit_breaker, rate_limit
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (broadcasts, drops, flushes)
// - Histogram: Distributions (batch sizes, store latency)

var (
	// ActiveWebSocketConnections tracks the current number of live sessions
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chordcast",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of registered rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chordcast",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of registered rooms",
	})

	// RoomParticipants tracks connected members per room
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chordcast",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of connected participants in each room",
	}, []string{"room_id"})

	// BroadcastsTotal counts fan-out requests by message kind and outcome
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "broadcast",
		Name:      "messages_total",
		Help:      "Total broadcast requests by message type and status",
	}, []string{"event_type", "status"})

	// DroppedMessages counts queue-full drops by policy
	DroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "websocket",
		Name:      "dropped_messages_total",
		Help:      "Total outbound messages dropped due to full send queues",
	}, []string{"policy"})

	// SlowClientDisconnects counts sessions closed for exceeding the drop threshold
	SlowClientDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "websocket",
		Name:      "slow_client_disconnects_total",
		Help:      "Total sessions closed after exceeding the dropped-message threshold",
	})

	// BatchFlushSize observes how many messages each periodic room flush carried
	BatchFlushSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chordcast",
		Subsystem: "broadcast",
		Name:      "batch_flush_size",
		Help:      "Number of messages combined per batched_update flush",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	// WebsocketEvents counts inbound client events by type and outcome
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound WebSocket events processed",
	}, []string{"event_type", "status"})

	// CircuitBreakerState tracks the cache circuit breaker
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chordcast",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CacheOperationsTotal counts redis cache operations
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total cache operations",
	}, []string{"operation", "status"})

	// StoreQueryDuration tracks relational store latency
	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chordcast",
		Subsystem: "store",
		Name:      "query_duration_seconds",
		Help:      "Duration of store queries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"query"})

	// RateLimitExceeded counts requests rejected by the rate limiter
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests counts requests checked against the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chordcast",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
