package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issue_transitions_total",
		Help: "Applied issue status transitions by target status.",
	}, []string{"to"})

	refreshExchanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Successful refresh token exchanges.",
	})
)
