package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator metrics, served on /metrics alongside the Go runtime defaults.
var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "examroom_active_rooms",
		Help: "Number of live exam rooms.",
	})

	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "examroom_rooms_created_total",
		Help: "Total rooms created since startup.",
	})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examroom_gateway_events_total",
		Help: "Inbound gateway events processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	ForceSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "examroom_force_submissions_total",
		Help: "Participants force-submitted by proctor or watchdog action.",
	})

	SubscribedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "examroom_subscribed_clients",
		Help: "WebSocket clients currently connected to the gateway.",
	})
)
