package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callbridge",
		Name:      "calls_started_total",
		Help:      "Count of call sessions that began negotiation.",
	})
	metricCallsAnswered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callbridge",
		Name:      "calls_answered_total",
		Help:      "Count of call sessions that reached the accepted state.",
	})
	metricCallsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callbridge",
		Name:      "calls_failed_total",
		Help:      "Count of call sessions that ended in the failed state.",
	})
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "callbridge",
		Name:      "active_sessions",
		Help:      "Number of call sessions currently held by the bridge.",
	})
)
