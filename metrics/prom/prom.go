// Package prom exports the library's observability signals to Prometheus:
// cache tier events via CacheAdapter and operation events via OpAdapter.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/gatedstore/cache"
	"github.com/IvanBrykalov/gatedstore/metrics"
)

// CacheAdapter implements cache.Metrics and exports Prometheus
// counters/gauges. All Prometheus metric types are goroutine-safe.
type CacheAdapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	sizeEnt  prometheus.Gauge
	sizeByte prometheus.Gauge
}

// NewCache constructs a cache metrics adapter.
//   - reg:  registry to register with (nil => prometheus.DefaultRegisterer)
//   - ns:   Prometheus namespace ("gatedstore" is conventional)
func NewCache(reg prometheus.Registerer, ns string) *CacheAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &CacheAdapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache",
			Name: "hits_total", Help: "Cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache",
			Name: "misses_total", Help: "Cache misses",
		}),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache",
			Name: "evictions_total", Help: "Cache evictions by reason",
		}, []string{"reason"}),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache",
			Name: "size_entries", Help: "Number of resident entries",
		}),
		sizeByte: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache",
			Name: "size_bytes", Help: "Approximate resident payload bytes",
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeByte)
	return a
}

func (a *CacheAdapter) Hit()  { a.hits.Inc() }
func (a *CacheAdapter) Miss() { a.misses.Inc() }

func (a *CacheAdapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

func (a *CacheAdapter) Size(entries int, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeByte.Set(float64(bytes))
}

// reason maps EvictReason to a stable label value.
func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictTTL:
		return "ttl"
	case cache.EvictCapacity:
		return "capacity"
	default:
		return "policy"
	}
}

var _ cache.Metrics = (*CacheAdapter)(nil)

// OpAdapter tees operation events to Prometheus while forwarding them to the
// aggregator, so both the alerting pipeline and the scrape endpoint see the
// same stream.
type OpAdapter struct {
	next    *metrics.Aggregator
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewOp constructs the operation event adapter in front of agg.
func NewOp(reg prometheus.Registerer, ns string, agg *metrics.Aggregator) *OpAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &OpAdapter{
		next: agg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "ops",
			Name: "events_total", Help: "Operation events by category and kind",
		}, []string{"category", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "ops",
			Name:    "latency_ms",
			Help:    "Remote operation latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~4s
		}, []string{"category"}),
	}
	reg.MustRegister(a.events, a.latency)
	return a
}

// Record implements the Recorder contract used by the request manager and
// the facade.
func (a *OpAdapter) Record(category, metric string, value float64) {
	if metric == metrics.MetricLatency {
		a.latency.WithLabelValues(category).Observe(value)
	} else {
		a.events.WithLabelValues(category, metric).Inc()
	}
	if a.next != nil {
		a.next.Record(category, metric, value)
	}
}
