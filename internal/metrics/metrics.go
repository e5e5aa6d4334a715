// Package metrics provides Prometheus instrumentation for the messenger.
// It exposes gauges for connection and presence counts, counters for frame
// and message throughput, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with at least one live connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_online_users",
		Help: "Current number of users with at least one live connection",
	})

	// MessagesTotal counts message submissions by result: "sent",
	// "rejected", or "persist_error".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_total",
		Help: "Total number of message submissions processed",
	}, []string{"result"})

	// FramesTotal counts inbound frames by type.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_frames_total",
		Help: "Total number of inbound frames processed",
	}, []string{"type"})

	// TypingEventsTotal counts relayed typing events.
	TypingEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_typing_events_total",
		Help: "Total number of typing events relayed",
	})

	// FanoutLatency records the time to push one message to all live
	// participant connections.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_fanout_latency_seconds",
		Help:    "Message fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		FramesTotal,
		TypingEventsTotal,
		FanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
