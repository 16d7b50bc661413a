package dispatch

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	events         *prometheus.CounterVec
	convertErrors  prometheus.Counter
	deliveryErrors prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_total",
			Help: "The total number of converted events",
		}, []string{"type"}),
		convertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "event_convert_errors_total",
			Help: "The total number of raw events that failed to convert",
		}),
		deliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "event_delivery_errors_total",
			Help: "The total number of failed subscriber deliveries",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.events, m.convertErrors, m.deliveryErrors)
}
