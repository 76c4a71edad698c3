// Package metrics exposes Prometheus collectors for the gateway and the
// session subsystem. Served at /metrics on the main router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayConnections tracks the number of live WebSocket connections.
	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelter",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Number of live WebSocket connections.",
	})

	// BroadcastsTotal counts events fanned out to the gateway.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelter",
		Subsystem: "gateway",
		Name:      "broadcasts_total",
		Help:      "Total events broadcast to connected clients.",
	})

	// HeartbeatEvictionsTotal counts connections evicted by the heartbeat
	// supervisor for missing acknowledgments.
	HeartbeatEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelter",
		Subsystem: "gateway",
		Name:      "heartbeat_evictions_total",
		Help:      "Connections evicted after heartbeat timeout.",
	})

	// RotationsTotal counts refresh-token rotations by result.
	RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelter",
		Subsystem: "session",
		Name:      "rotations_total",
		Help:      "Refresh token rotations by result.",
	}, []string{"result"})
)
