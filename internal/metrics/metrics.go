// Package metrics exposes the relay's Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms is the number of rooms currently held in memory on
	// this instance.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_rooms",
		Help: "Number of rooms currently active on this instance.",
	})

	// ConnectedClients is the number of websocket clients currently
	// attached to any room on this instance.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_connected_clients",
		Help: "Number of websocket clients currently connected to this instance.",
	})

	// UpdatesTotal counts every CRDT update applied to a document,
	// regardless of origin (local client or bus).
	UpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_updates_total",
		Help: "Total number of CRDT updates applied across all rooms.",
	})

	// MessagesSentTotal counts every websocket frame written out to a
	// client.
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_messages_sent_total",
		Help: "Total number of websocket messages sent to clients.",
	})
)

// IncActiveRooms increments the active room gauge.
func IncActiveRooms() { ActiveRooms.Inc() }

// DecActiveRooms decrements the active room gauge.
func DecActiveRooms() { ActiveRooms.Dec() }

// IncConnectedClients increments the connected client gauge.
func IncConnectedClients() { ConnectedClients.Inc() }

// DecConnectedClients decrements the connected client gauge.
func DecConnectedClients() { ConnectedClients.Dec() }

// IncUpdates increments the updates-applied counter.
func IncUpdates() { UpdatesTotal.Inc() }

// IncMessagesSent increments the messages-sent counter.
func IncMessagesSent() { MessagesSentTotal.Inc() }
