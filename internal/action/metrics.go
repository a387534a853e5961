package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalogue_actions_started_total",
	Help: "Actions started, by kind",
}, []string{"kind"})

var actionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalogue_actions_resolved_total",
	Help: "Actions resolved by the authority, by kind and outcome",
}, []string{"kind", "outcome"})

var actionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalogue_actions_failed_total",
	Help: "Actions that ended before reaching the authority's result log, by kind and reason",
}, []string{"kind", "reason"})

var actionsDemoted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalogue_actions_demoted_total",
	Help: "Actions demoted to low priority polling, by kind",
}, []string{"kind"})

var actionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "catalogue_actions_in_flight",
	Help: "Actions currently driven by this process",
})
