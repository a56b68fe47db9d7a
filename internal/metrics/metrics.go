package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_sessions_active",
			Help: "Currently open WebSocket sessions",
		},
	)

	SessionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_ws_sessions_rejected_total",
			Help: "WebSocket sessions closed for a failed credential check",
		},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ws_frames_received_total",
			Help: "Inbound frames by type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_ws_frames_dropped_total",
			Help: "Outbound frames dropped because a session queue was full or closed",
		},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_users_registered_total",
			Help: "Total users registered",
		},
	)

	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rooms_created_total",
			Help: "Total rooms created",
		},
		[]string{"room_type"}, // "public" or "private"
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_ingested_total",
			Help: "Messages accepted by the ingestion pipeline, by outcome",
		},
		[]string{"result"},
	)

	FanoutDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_fanout_deliveries_total",
			Help: "Frames handed to local subscribers",
		},
	)

	// Broker metrics
	BrokerPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_publishes_total",
			Help: "Broker publish attempts by result",
		},
		[]string{"result"},
	)

	BrokerDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broker_deliveries_total",
			Help: "Messages received from the broker",
		},
	)

	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_broker_connected",
			Help: "1 while the broker bridge holds a live connection",
		},
	)

	BrokerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broker_reconnect_attempts_total",
			Help: "Broker connection attempts after the first",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_postgres_latency_seconds",
			Help:    "Database query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
