package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the pool's Prometheus collectors. With a nil registerer the
// collectors still work, they just are not exported anywhere.
type metrics struct {
	browsersLive    prometheus.Gauge
	contextsActive  prometheus.Gauge
	browsersCreated prometheus.Counter
	browsersEvicted prometheus.Counter
	acquisitions    prometheus.Counter
	acquireFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		browsersLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "browserpool_browsers_live",
			Help: "Number of browser instances currently tracked by the pool.",
		}),
		contextsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "browserpool_contexts_active",
			Help: "Number of leased browser contexts currently outstanding.",
		}),
		browsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserpool_browsers_created_total",
			Help: "Total browser instances created by the pool.",
		}),
		browsersEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserpool_browsers_evicted_total",
			Help: "Total disconnected browser instances evicted from the pool.",
		}),
		acquisitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserpool_acquisitions_total",
			Help: "Total successful context acquisitions.",
		}),
		acquireFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserpool_acquire_failures_total",
			Help: "Total failed context acquisitions.",
		}),
	}
}
