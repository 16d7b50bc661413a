package client_cache

import "github.com/prometheus/client_golang/prometheus"

const (
	kindFriends = "friends"
	kindGroups  = "groups"
	kindMembers = "members"
)

type metrics struct {
	lookups     *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "The total number of entity cache lookups",
		}, []string{"cache", "result"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_fetch_errors_total",
			Help: "The total number of remote fetches that failed after retries",
		}, []string{"cache"}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.lookups, m.fetchErrors)
}
