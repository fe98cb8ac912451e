package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total rides created"})
	OffersTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_total", Help: "Total rides offered to candidates"})
	EmptyMatches = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "empty_matches_total", Help: "Matching runs that found no candidates"})
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "live_ws_sessions", Help: "Number of live websocket sessions"})

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "claims_total", Help: "Claim attempts by result"},
		[]string{"result"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "transitions_total", Help: "Successful ride status transitions"},
		[]string{"status"},
	)
	PushBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_batches_total", Help: "Push gateway batches by outcome"},
		[]string{"outcome"},
	)
	PushRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_rejected_total", Help: "Addresses rejected by the push gateway"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
