package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corkboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Sync metrics
	SessionsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corkboard_sessions_connected",
			Help: "Currently connected sessions",
		},
	)

	SessionsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_sessions_dropped_total",
			Help: "Sessions disconnected by the server",
		},
		[]string{"reason"}, // "slow_consumer" or "read_error"
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_events_received_total",
			Help: "Inbound events by type and outcome",
		},
		[]string{"event", "outcome"}, // outcome: "ok", "rejected", "malformed"
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_events_broadcast_total",
			Help: "Outbound events fanned out to room members",
		},
		[]string{"event"},
	)

	BoxesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corkboard_boxes_created_total",
			Help: "Total boxes created",
		},
	)

	BoxesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corkboard_boxes_deleted_total",
			Help: "Total boxes deleted",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corkboard_rate_limit_hits_total",
			Help: "Total connect rate limit hits",
		},
	)
)
