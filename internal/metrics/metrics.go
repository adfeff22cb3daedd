// Package metrics holds the Prometheus collectors shared by the containers
// and the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "social_chat",
		Name:      "active_subscriptions",
		Help:      "Live gateway subscriptions currently held by state containers.",
	}, []string{"stream"})

	Snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social_chat",
		Name:      "snapshots_total",
		Help:      "Snapshots applied to container state.",
	}, []string{"stream"})

	StaleSnapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social_chat",
		Name:      "stale_snapshots_total",
		Help:      "Snapshots dropped because their subscription had been replaced.",
	}, []string{"stream"})

	GatewayFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social_chat",
		Name:      "gateway_failures_total",
		Help:      "Failed container operations by operation name.",
	}, []string{"op"})

	BridgeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "social_chat",
		Name:      "bridge_connections",
		Help:      "Open WebSocket bridge connections.",
	})
)

const (
	StreamMessages      = "messages"
	StreamConversations = "conversations"
	StreamOnlineUsers   = "online_users"
)

func init() {
	prometheus.MustRegister(ActiveSubscriptions, Snapshots, StaleSnapshots, GatewayFailures, BridgeConnections)
}
