package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cptrack",
		Subsystem: "engine",
		Name:      "messages_sent_total",
		Help:      "Messages sent to other blocks by kind",
	}, []string{"block", "kind"})

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cptrack",
		Subsystem: "engine",
		Name:      "messages_received_total",
		Help:      "Messages received from other blocks by kind",
	}, []string{"block", "kind"})

	exchangeRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cptrack",
		Subsystem: "engine",
		Name:      "exchange_rounds_total",
		Help:      "Synchronous exchange rounds",
	}, []string{"block", "phase"})

	controlWaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cptrack",
		Subsystem: "engine",
		Name:      "control_waves_total",
		Help:      "Termination detection waves of the asynchronous exchange",
	}, []string{"block", "phase"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cptrack",
		Subsystem: "engine",
		Name:      "phase_duration_seconds",
		Help:      "Wall time of each engine phase",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"block", "phase"})
)
