package pagestate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adlib",
		Subsystem: "pagestate",
		Name:      "polls_total",
		Help:      "search-match polls broken down by outcome.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adlib",
		Subsystem: "pagestate",
		Name:      "transitions_total",
		Help:      "Page state transitions by target state.",
	}, []string{"to"})

	activePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "adlib",
		Subsystem: "pagestate",
		Name:      "scheduled_polls",
		Help:      "Controllers with a poll currently scheduled.",
	})
)
