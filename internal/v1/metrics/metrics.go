package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the relay service.
//
// Naming convention: namespace_subsystem_name
// - namespace: watchtower (application-level grouping)
// - subsystem: websocket, room, kv (feature-level grouping)
// - name: specific metric (connections_active, frames_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (frames relayed, kv operations)
// - Histogram: Latency distributions (actor dispatch time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live room actors (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live room actors",
	})

	// RoomPlayers tracks the roster size per game (GaugeVec with game_id label - current state per tenant)
	// Labelled by game rather than room code to keep cardinality bounded.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players currently in rooms, per game",
	}, []string{"game_id"})

	// WebsocketFrames tracks relayed frames (CounterVec - cumulative)
	WebsocketFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"frame_type", "direction"})

	// DispatchDuration tracks time spent handling one actor message (HistogramVec - latency distribution)
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchtower",
		Subsystem: "room",
		Name:      "dispatch_seconds",
		Help:      "Time spent handling a single room actor message",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"op"})

	// KvOperations tracks key/value store calls (CounterVec - cumulative)
	KvOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "kv",
		Name:      "operations_total",
		Help:      "Total key/value store operations",
	}, []string{"op", "status"})

	// CircuitBreakerState reports the breaker state per backend (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "kv",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts operations rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "kv",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected because the circuit breaker was open",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
