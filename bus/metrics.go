package bus

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Bus's Prometheus instrumentation, grounded in the
// counter/gauge wiring pattern used for the CLI's operational surface.
type metrics struct {
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "race",
			Subsystem: "bus",
			Name:      "messages_delivered_total",
			Help:      "Messages successfully enqueued to a subscriber's mailbox.",
		}, []string{"channel"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "race",
			Subsystem: "bus",
			Name:      "messages_dropped_total",
			Help:      "Messages that failed enqueue to a subscriber's mailbox.",
		}, []string{"channel"}),
	}
	if reg != nil {
		reg.MustRegister(m.delivered, m.dropped)
	}
	return m
}
