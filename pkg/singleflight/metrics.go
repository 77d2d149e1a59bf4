package singleflight

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Calls tracks callers by role
var Calls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "search_singleflight_calls_total",
		Help: "Total number of single-flight callers by role",
	},
	[]string{"role"}, // "initiator", "waiter", "detached"
)
