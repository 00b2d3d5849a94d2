package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roachplane_messages_dispatched_total",
		Help: "Queue messages routed to a handler, by message type.",
	}, []string{"msg_type"})

	dispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roachplane_dispatch_failures_total",
		Help: "Iterations that failed to lease or route a message.",
	})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roachplane_dispatch_duration_seconds",
		Help:    "Synchronous handler time per message, by message type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"msg_type"})

	queueDepthPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roachplane_queue_polls_total",
		Help: "Poll iterations, labelled by whether a message was leased.",
	}, []string{"result"})

	workersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roachplane_workers_busy",
		Help: "Operation workers currently executing.",
	})
)
