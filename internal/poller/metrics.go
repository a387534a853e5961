package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalogue_poll_attempts_total",
	Help: "Result log poll attempts by priority and whether the log was found",
}, []string{"priority", "result"})
