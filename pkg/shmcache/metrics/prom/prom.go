// Package prom exports shmcache metrics to Prometheus.
//
// [Adapter] implements shmcache.Metrics and counts what one process did.
// [Collector] reads a segment's shared counters at scrape time, so it
// reports occupancy written by every attached process.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// Adapter implements shmcache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evictions  prometheus.Counter
	resets     prometheus.Counter
	entries    prometheus.Gauge
	blocksUsed prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:       counter("hits_total", "Cache hits"),
		misses:     counter("misses_total", "Cache misses"),
		evictions:  counter("evictions_total", "Entries evicted to make room"),
		resets:     counter("resets_total", "Segments reformatted after a crashed writer"),
		entries:    gauge("last_entries", "Entries after this process's last mutation"),
		blocksUsed: gauge("last_blocks_used", "Blocks used after this process's last mutation"),
	}

	reg.MustRegister(a.hits, a.misses, a.evictions, a.resets, a.entries, a.blocksUsed)

	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter.
func (a *Adapter) Evict() { a.evictions.Inc() }

// Reset increments the reset counter.
func (a *Adapter) Reset() { a.resets.Inc() }

// Size updates the occupancy gauges.
func (a *Adapter) Size(entries int, blocksUsed int64) {
	a.entries.Set(float64(entries))
	a.blocksUsed.Set(float64(blocksUsed))
}

// Compile-time check: ensure Adapter implements shmcache.Metrics.
var _ shmcache.Metrics = (*Adapter)(nil)

// StatsSource is the part of *shmcache.Cache the Collector reads.
type StatsSource interface {
	Stats() (shmcache.Stats, error)
}

// Collector reports a segment's shared counters on every scrape.
type Collector struct {
	src StatsSource

	entries         *prometheus.Desc
	blocksUsed      *prometheus.Desc
	blocksAvailable *prometheus.Desc
	blockSize       *prometheus.Desc
	resets          *prometheus.Desc
	dirty           *prometheus.Desc
	up              *prometheus.Desc
}

// NewCollector returns a Collector over src. Register it with a registry to
// export it.
func NewCollector(src StatsSource, ns, sub string, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, sub, name), help, nil, constLabels)
	}

	return &Collector{
		src:             src,
		entries:         desc("entries", "Live entries in the segment"),
		blocksUsed:      desc("blocks_used", "Blocks held by entries"),
		blocksAvailable: desc("blocks_available", "Blocks usable by entries"),
		blockSize:       desc("block_size_bytes", "Block size in bytes"),
		resets:          desc("segment_resets", "Times the segment was reformatted after a crashed writer"),
		dirty:           desc("dirty", "1 while the dirty flag is set"),
		up:              desc("up", "1 if the segment could be read"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.blocksUsed
	ch <- c.blocksAvailable
	ch <- c.blockSize
	ch <- c.resets
	ch <- c.dirty
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st, err := c.src.Stats()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)

		return
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.Entries))
	ch <- prometheus.MustNewConstMetric(c.blocksUsed, prometheus.GaugeValue, float64(st.BlocksUsed))
	ch <- prometheus.MustNewConstMetric(c.blocksAvailable, prometheus.GaugeValue, float64(st.BlocksAvailable))
	ch <- prometheus.MustNewConstMetric(c.blockSize, prometheus.GaugeValue, float64(st.BlockSize))
	ch <- prometheus.MustNewConstMetric(c.resets, prometheus.CounterValue, float64(st.Resets))

	dirty := 0.0
	if st.Dirty {
		dirty = 1
	}

	ch <- prometheus.MustNewConstMetric(c.dirty, prometheus.GaugeValue, dirty)
}

var _ prometheus.Collector = (*Collector)(nil)
