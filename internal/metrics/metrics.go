// Package metrics provides Prometheus instrumentation for the live chat
// server. It exposes gauges for connection, user and room counts, counters
// for message throughput and presence churn, and a histogram for fanout
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of distinct online users.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Current number of distinct users with at least one connection",
	})

	// RoomsActive tracks the number of rooms with at least one subscriber.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Current number of rooms with at least one subscribed connection",
	})

	// MessagesTotal counts processed sendMessage events, labeled by outcome:
	// "sent", "rejected", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of sendMessage events processed",
	}, []string{"outcome"})

	// DeliveriesTotal counts frames delivered to connections, labeled by
	// path: "room" or "user".
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_deliveries_total",
		Help: "Total number of event frames delivered to connections",
	}, []string{"path"})

	// PresenceTransitions counts online/offline transitions.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_presence_transitions_total",
		Help: "Total number of presence transitions",
	}, []string{"state"})

	// FanoutLatency records end-to-end sendMessage handling latency in seconds.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_fanout_latency_seconds",
		Help:    "sendMessage handling latency from receipt to last delivery",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		RoomsActive,
		MessagesTotal,
		DeliveriesTotal,
		PresenceTransitions,
		FanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
