package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDenied tracks denied requests by the scope that denied them
	RateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_rate_limit_denied_total",
			Help: "Total number of search requests denied by a rate limit",
		},
		[]string{"scope"}, // "identity", "session", "global"
	)

	// SessionsActive tracks sessions with at least one search in flight
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "search_rate_limit_sessions_active",
			Help: "Number of sessions with at least one search in flight",
		},
	)

	// StatsDropped tracks rate limit events dropped by the async recorder
	StatsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_rate_limit_stats_dropped_total",
			Help: "Total number of rate limit events dropped because the recorder queue was full",
		},
	)
)
