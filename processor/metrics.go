package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/deltastream/metric"
)

// procMetrics holds Prometheus metrics for scheduler activity.
type procMetrics struct {
	batches        prometheus.Counter
	failures       prometheus.Counter
	items          prometheus.Counter
	queueDepth     prometheus.Gauge
	processingTime prometheus.Histogram
}

// newProcMetrics creates and registers processor metrics.
func newProcMetrics(registry *metric.Registry, prefix string) (*procMetrics, error) {
	m := &procMetrics{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "deltastream",
			Subsystem:   "processor",
			Name:        "batches_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of batches processed successfully",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "deltastream",
			Subsystem:   "processor",
			Name:        "batch_failures_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of batches whose transform failed",
		}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "deltastream",
			Subsystem:   "processor",
			Name:        "items_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of individual records processed",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "deltastream",
			Subsystem:   "processor",
			Name:        "queue_depth",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Backing queue depth observed at last flush",
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "deltastream",
			Subsystem:   "processor",
			Name:        "processing_seconds",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Transform execution time per batch",
			Buckets:     prometheus.DefBuckets,
		}),
	}

	if err := registry.RegisterCounter(prefix, "processor_batches", m.batches); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "processor_batch_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "processor_items", m.items); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "processor_queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(prefix, "processor_processing_seconds", m.processingTime); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *procMetrics) recordBatch(items int, elapsed time.Duration, depth int) {
	m.batches.Inc()
	m.items.Add(float64(items))
	m.queueDepth.Set(float64(depth))
	m.processingTime.Observe(elapsed.Seconds())
}

func (m *procMetrics) recordFailure() {
	m.failures.Inc()
}
