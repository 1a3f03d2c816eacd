package ringbuf

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/deltastream/metric"
)

// ringMetrics holds Prometheus metrics for ring buffer operations.
type ringMetrics struct {
	pushes    prometheus.Counter
	pops      prometheus.Counter
	evictions prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newRingMetrics creates and registers ring metrics with the provided registry.
func newRingMetrics(registry *metric.Registry, prefix string) (*ringMetrics, error) {
	m := &ringMetrics{
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "deltastream",
			Subsystem:   "ringbuf",
			Name:        "pushes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of ring buffer push operations",
		}),
		pops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "deltastream",
			Subsystem:   "ringbuf",
			Name:        "pops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of ring buffer pop operations",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "deltastream",
			Subsystem:   "ringbuf",
			Name:        "evictions_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of items evicted on overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "deltastream",
			Subsystem:   "ringbuf",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of items in the ring buffer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "deltastream",
			Subsystem:   "ringbuf",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Ring buffer utilization as a fraction (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "ringbuf_pushes", m.pushes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "ringbuf_pops", m.pops); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "ringbuf_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "ringbuf_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "ringbuf_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ringMetrics) recordPush(size, capacity int) {
	m.pushes.Inc()
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *ringMetrics) recordPop(size, capacity int) {
	m.pops.Inc()
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *ringMetrics) recordEvict() {
	m.evictions.Inc()
}

func (m *ringMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
