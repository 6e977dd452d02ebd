// Package prom exports cache.Metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/agebag/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	loads       *prometheus.HistogramVec
	loadErrors  *prometheus.CounterVec
	evicts      *prometheus.CounterVec
	sweeps      prometheus.Counter
	invalidates prometheus.Counter
	rebuilds    *prometheus.CounterVec
	live        prometheus.Gauge
	total       prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels}
	}

	a := &Adapter{
		hits:       prometheus.NewCounterVec(opts("hits_total", "Index lookups that found a live item"), []string{"index"}),
		misses:     prometheus.NewCounterVec(opts("misses_total", "Index lookups that found nothing live"), []string{"index"}),
		loadErrors: prometheus.NewCounterVec(opts("load_errors_total", "Loader calls that returned an error"), []string{"index"}),
		loads: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_duration_seconds",
			Help:        "Loader call latency on cache misses",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"index"}),
		evicts:      prometheus.NewCounterVec(opts("evictions_total", "Items retired by sweeps, by reason"), []string{"reason"}),
		sweeps:      prometheus.NewCounter(opts("sweeps_total", "Eviction sweeps run")),
		invalidates: prometheus.NewCounter(opts("invalidations_total", "Whole-cache drops")),
		rebuilds:    prometheus.NewCounterVec(opts("index_rebuilds_total", "Index rebuilds"), []string{"index"}),
		live:        prometheus.NewGauge(gauge("live_items", "Items live on the eviction timeline")),
		total:       prometheus.NewGauge(gauge("indexed_items", "Live items plus evicted items still referenced by an index")),
	}
	reg.MustRegister(a.hits, a.misses, a.loads, a.loadErrors, a.evicts, a.sweeps,
		a.invalidates, a.rebuilds, a.live, a.total)
	return a
}

// Hit increments the hit counter for index.
func (a *Adapter) Hit(index string) { a.hits.WithLabelValues(index).Inc() }

// Miss increments the miss counter for index.
func (a *Adapter) Miss(index string) { a.misses.WithLabelValues(index).Inc() }

// Load observes one loader call.
func (a *Adapter) Load(index string, took time.Duration, err error) {
	a.loads.WithLabelValues(index).Observe(took.Seconds())
	if err != nil {
		a.loadErrors.WithLabelValues(index).Inc()
	}
}

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) { a.evicts.WithLabelValues(r.String()).Inc() }

// Sweep counts one eviction sweep.
func (a *Adapter) Sweep() { a.sweeps.Inc() }

// Invalidate counts one whole-cache drop.
func (a *Adapter) Invalidate() { a.invalidates.Inc() }

// Rebuild counts one rebuild of index.
func (a *Adapter) Rebuild(index string) { a.rebuilds.WithLabelValues(index).Inc() }

// Size updates the live and indexed gauges.
func (a *Adapter) Size(live, total int) {
	a.live.Set(float64(live))
	a.total.Set(float64(total))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
