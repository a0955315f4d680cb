package unifiedcache

// Prometheus metrics are optional: New uses a no-op sink unless WithMetrics
// supplies a registry, so the hot insert/get path never pays for a metric
// update in a caller that didn't ask for one.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	inserts   prometheus.Counter
	bytesIn   prometheus.Counter
}

func newMetricsSink(reg *prometheus.Registry) *metricsSink {
	if reg == nil {
		return nil
	}
	m := &metricsSink{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pxcache", Name: "hits_total", Help: "Resident cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pxcache", Name: "misses_total", Help: "Resident cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pxcache", Name: "evictions_total", Help: "Entries demoted out of residency by ARC.",
		}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pxcache", Name: "inserts_total", Help: "Entries admitted to the cache.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pxcache", Name: "inserted_bytes_total", Help: "Pixel bytes admitted to the cache.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.inserts, m.bytesIn)
	return m
}

func (m *metricsSink) observeHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *metricsSink) observeMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *metricsSink) observeEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *metricsSink) observeInsert(bytes int64) {
	if m != nil {
		m.inserts.Inc()
		m.bytesIn.Add(float64(bytes))
	}
}
