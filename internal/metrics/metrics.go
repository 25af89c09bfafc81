package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrdeploy_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vrdeploy_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Pubsub metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vrdeploy_connections_active",
			Help: "Currently open pubsub connections",
		},
		[]string{"role"}, // "agente" or "user"
	)

	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrdeploy_pubsub_messages_total",
			Help: "Valid protocol messages received",
		},
		[]string{"role", "type"},
	)

	BusPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrdeploy_bus_publishes_total",
			Help: "Messages published to the event bus",
		},
		[]string{"event"},
	)

	PresenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vrdeploy_presence_errors_total",
			Help: "Failed presence store operations",
		},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vrdeploy_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	DeploymentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vrdeploy_deployments_created_total",
			Help: "Total deployments created",
		},
	)

	TerminalSessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vrdeploy_terminal_sessions_created_total",
			Help: "Total terminal sessions created",
		},
	)
)
