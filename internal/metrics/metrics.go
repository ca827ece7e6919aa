// Package metrics holds the Prometheus collectors for the push pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_registrations_total",
			Help: "Device token registration outcomes by result (synced, unsynced, cached, rejected, unregistered).",
		},
		[]string{"result"},
	)

	PlatformEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_platform_events_total",
			Help: "Platform notification events observed by kind.",
		},
		[]string{"kind"},
	)

	IngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_notifications_ingested_total",
			Help: "Notification records ingested into the local cache, split by new or duplicate.",
		},
		[]string{"outcome"},
	)

	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_read_intents_total",
			Help: "Read-state reconciliation intents by scope (one, all) and final state.",
		},
		[]string{"scope", "state"},
	)

	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_routes_total",
			Help: "Tapped notifications by resolved screen (none when inert).",
		},
		[]string{"screen"},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_backend_requests_total",
			Help: "Backend push endpoint requests served by route and status.",
		},
		[]string{"route", "status"},
	)
)
