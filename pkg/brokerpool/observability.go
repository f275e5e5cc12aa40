package brokerpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	brokerConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curatorq_broker_connect_attempts_total",
			Help: "Total broker connection attempts by outcome",
		},
		[]string{"status"},
	)

	brokerPingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curatorq_broker_pings_total",
			Help: "Total broker health pings by outcome",
		},
		[]string{"status"},
	)
)

func recordConnectAttempt(status string) {
	brokerConnectAttemptsTotal.WithLabelValues(status).Inc()
}

func recordPing(status string) {
	brokerPingsTotal.WithLabelValues(status).Inc()
}
