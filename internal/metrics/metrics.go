package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 15, 30},
		},
		[]string{"method", "path"},
	)

	// Dispatch metrics
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_delivered_total",
			Help: "Total messages appended and dispatched",
		},
		[]string{"role"},
	)

	PollWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_poll_waiters",
			Help: "Long-poll requests currently suspended",
		},
	)

	PollOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_poll_outcomes_total",
			Help: "Long-poll completions by outcome",
		},
		[]string{"outcome"}, // "backlog", "message", "timeout", "cancelled"
	)

	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_socket_connections",
			Help: "Live websocket connections joined to a room",
		},
	)

	SocketFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_socket_frames_dropped_total",
			Help: "Inbound socket frames ignored as malformed",
		},
		[]string{"reason"},
	)

	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_broadcast_failures_total",
			Help: "Socket connections dropped during broadcast",
		},
	)

	ReplyLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_reply_latency_seconds",
			Help:    "Time from user message dispatch to assistant reply dispatch",
			Buckets: []float64{.5, .8, 1, 1.2, 1.6, 2, 5, 10, 30},
		},
	)

	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_archive_writes_total",
			Help: "Transcript archive writes by result",
		},
		[]string{"result"}, // "ok", "error", "dropped"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
