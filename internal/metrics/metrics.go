package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_connections_total",
			Help: "Total number of websocket sessions established",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcore_connections_current",
			Help: "Current number of live websocket sessions",
		},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_auth_failures_total",
			Help: "Total number of refused websocket connects",
		},
	)
)

// Event routing metrics
var (
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_events_received_total",
			Help: "Inbound client events by type",
		},
		[]string{"type"},
	)

	EventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_events_sent_total",
			Help: "Server events fanned out to sessions, by type",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_events_dropped_total",
			Help: "Events dropped because a session send buffer was full",
		},
	)
)
