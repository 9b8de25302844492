package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaboration broker.
//
// Naming convention: namespace_subsystem_name
// - namespace: collab (application-level grouping)
// - subsystem: websocket, room, operation, fanout (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, participants)
// - Counter: cumulative events (operations, fanout emits, errors)
// - Histogram: latency distributions (operation durations)

var (
	// ActiveConnections tracks the current number of live sockets.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the number of live rooms by kind (workflow, workspace).
	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	}, []string{"kind"})

	// RoomParticipants tracks connection counts per workflow room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of connections in each workflow room",
	}, []string{"workflow_id"})

	// SocketEvents counts inbound socket events by type and outcome.
	SocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound socket events processed",
	}, []string{"event_type", "status"})

	// Operations counts workflow operations by target, operation and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "operation",
		Name:      "operations_total",
		Help:      "Total workflow operations processed",
	}, []string{"target", "operation", "status"})

	// OperationDuration tracks end-to-end pipeline latency per target.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab",
		Subsystem: "operation",
		Name:      "duration_seconds",
		Help:      "Time spent processing workflow operations",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"target"})

	// FanoutEvents counts workspace resource broadcasts by resource and operation.
	FanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "fanout",
		Name:      "events_total",
		Help:      "Total workspace resource events broadcast",
	}, []string{"resource_type", "operation"})

	// Evictions counts forced removals by trigger (permission, deletion).
	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "room",
		Name:      "evictions_total",
		Help:      "Total forced room removals",
	}, []string{"reason"})

	// RateLimitRequests counts requests passing through rate limiting.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked against rate limits",
	}, []string{"endpoint"})

	// RateLimitExceeded counts rejected requests by endpoint and limit type.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limits",
	}, []string{"endpoint", "limit_type"})

	// CircuitBreakerState exposes breaker state per backing service (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts calls dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total calls rejected while the circuit breaker was open",
	}, []string{"service"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
