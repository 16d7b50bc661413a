package bot

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	online     prometheus.Gauge
	reconnects *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "account_online",
			Help: "Whether the account is online",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconnect_attempts_total",
			Help: "The total number of reconnect attempts",
		}, []string{"result"}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.online, m.reconnects)
}

func (m *metrics) setOnline(online bool) {
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
