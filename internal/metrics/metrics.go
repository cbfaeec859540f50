// ABOUTME: Prometheus metrics for the messaging gateway
// ABOUTME: Counters for sends and deliveries, gauge for open live connections

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	LiveDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_live_deliveries_total",
			Help: "Dispatch outcomes on the live channel",
		},
		[]string{"outcome"}, // "pushed" or "offline"
	)

	NotificationsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_notifications_queued_total",
			Help: "Notification handoffs to the external collaborator",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_live_connections",
			Help: "Currently registered live connections",
		},
	)

	ConnectionReplacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_connection_replacements_total",
			Help: "Live connections closed because a newer one registered",
		},
	)
)
