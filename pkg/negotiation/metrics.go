package negotiation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "negotiation_active_instances",
		Help: "The number of running connection instances",
	})

	metricDescriptionsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_descriptions_sent",
		Help: "The total number of descriptions sent to the remote peer",
	}, []string{"kind"})

	metricDescriptionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_descriptions_received",
		Help: "The total number of descriptions received by outcome",
	}, []string{"kind", "outcome"})

	metricCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_candidates",
		Help: "The total number of candidates handled",
	}, []string{"direction", "outcome"})

	metricRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_restarts",
		Help: "The total number of requested ICE restarts",
	})

	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_errors",
		Help: "The total number of surfaced errors by kind",
	}, []string{"kind"})
)
