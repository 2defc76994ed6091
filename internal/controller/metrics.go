package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	pageClientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wormhole_controller_page_clients",
		Help: "Number of connected page clients",
	})
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wormhole_controller_pending_requests",
		Help: "Number of requests waiting for a page client response",
	})
	forwardedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wormhole_controller_requests_total",
		Help: "Requests handed to the hub, by outcome",
	}, []string{"outcome"})
	unmatchedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wormhole_controller_unmatched_responses_total",
		Help: "Page client frames that matched no pending request",
	})
)

// RegisterMetrics registers the controller collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(pageClientsGauge, pendingGauge, forwardedCounter, unmatchedCounter)
}
