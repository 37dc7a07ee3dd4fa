package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_outbox_events_total",
			Help: "Outbox events by stage",
		},
		[]string{"stage"}, // stored|published|failed
	)

	DispatchCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_outbox_cycles_total",
			Help: "Dispatch cycles by result",
		},
		[]string{"result"}, // empty|ok|error
	)

	DispatchCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orders_outbox_cycle_duration_seconds",
			Help:    "Wall time of one claim/deliver/mark cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_consumer_messages_total",
			Help: "Downstream consumer messages by result",
		},
		[]string{"result"}, // handled|duplicate|invalid|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxEventsTotal,
		DispatchCyclesTotal,
		DispatchCycleSeconds,
		ConsumerMessagesTotal,
	)
}
