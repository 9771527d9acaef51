package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matches_total", Help: "Total offers extended to drivers"})
	OffersTimedOut   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_timed_out_total", Help: "Offers that expired without a driver response"})
	RequestsDeclined = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "requests_declined_total", Help: "Ride requests that exhausted all candidates"})
	RidesConcluded   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_concluded_total", Help: "Rides finished by outcome"},
		[]string{"outcome"},
	)
	ActiveSimulations = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "active_simulations", Help: "Ride simulations currently running"})
	ChargingSessions  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "charging_sessions", Help: "Charging tasks currently running"})

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
