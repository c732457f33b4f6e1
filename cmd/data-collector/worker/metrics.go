package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	deliveriesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datacollector_deliveries_received_total",
			Help: "The total number of deliveries taken from the inbound queue",
		},
	)
	deliveriesRedelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datacollector_deliveries_redelivered_total",
			Help: "The total number of deliveries the broker handed out more than once",
		},
	)
	messagesValidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datacollector_messages_validated_total",
			Help: "The total number of messages that passed validation and were forwarded",
		},
	)
	messagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datacollector_messages_rejected_total",
			Help: "The total number of messages routed to the validation error queue",
		},
		[]string{"error_type"},
	)
	deliveriesRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datacollector_deliveries_requeued_total",
			Help: "The total number of deliveries handed back to the broker after an infrastructure failure",
		},
	)
	deliveriesAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datacollector_deliveries_abandoned_total",
			Help: "The total number of deliveries left unacknowledged during shutdown",
		},
	)
	processingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datacollector_processing_duration_seconds",
			Help:    "Time from receiving a delivery until it was settled",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
)
