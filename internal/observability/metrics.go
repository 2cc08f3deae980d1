package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_lifecycle", Name: "sessions_active", Help: "Number of live ride sessions"})
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "phase_transitions_total", Help: "Ride session phase transitions"},
		[]string{"role", "phase"},
	)
	PollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "poll_ticks_total", Help: "Ride status poll ticks by result"},
		[]string{"result"},
	)
	BoardAccepts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "board_accepts_total", Help: "Driver accept attempts by result"},
		[]string{"result"},
	)
	RatingsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "ratings_submitted_total", Help: "Rating submissions by result"},
		[]string{"result"},
	)
	CompletionReports = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "completion_reports_total", Help: "Fire-and-forget completion updates by result"},
		[]string{"result"},
	)
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "invariant_violations_total", Help: "Engine invariant violations ignored in production mode"})

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lifecycle",
			Name:      "backend_request_duration_seconds",
			Help:      "Ride/Driver API call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lifecycle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
